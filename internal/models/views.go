package models

import "time"

// TimelineStatus is the rendering state of a milestone.
type TimelineStatus string

const (
	TimelineCompleted TimelineStatus = "completed"
	TimelineCurrent   TimelineStatus = "current"
	TimelinePending   TimelineStatus = "pending"
)

// TimelineEntry is one canonical milestone as shown to the applicant.
type TimelineEntry struct {
	Key         string         `json:"key"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Timestamp   *time.Time     `json:"timestamp"`
	Status      TimelineStatus `json:"status"`
	Icon        string         `json:"icon"`
}

// DocumentsSummary counts applicant documents by verification state.
type DocumentsSummary struct {
	Uploaded int `json:"uploaded"`
	Verified int `json:"verified"`
	Pending  int `json:"pending"`
}

// StatusView is the status-by-code projection of a record.
type StatusView struct {
	SessionID               string           `json:"sessionId"`
	ReferenceCode           string           `json:"referenceCode"`
	Channel                 Channel          `json:"channel"`
	Status                  string           `json:"status"`
	ApplicantName           string           `json:"applicantName"`
	Business                string           `json:"business"`
	LoanAmount              float64          `json:"loanAmount"`
	MonthlyPayment          float64          `json:"monthlyPayment"`
	CreditTerm              int              `json:"creditTerm"`
	SubmittedAt             *time.Time       `json:"submittedAt"`
	LastUpdated             time.Time        `json:"lastUpdated"`
	Timeline                []TimelineEntry  `json:"timeline"`
	ProgressPercentage      int              `json:"progressPercentage"`
	EstimatedCompletionDate *time.Time       `json:"estimatedCompletionDate"`
	NextAction              string           `json:"nextAction"`
	Notifications           []Notification   `json:"notifications"`
	Documents               DocumentsSummary `json:"documents"`
	RejectionReason         string           `json:"rejectionReason,omitempty"`
	ApprovalDetails         *ApprovalDetails `json:"approvalDetails,omitempty"`
}

// ResumeSnapshot is what a wizard needs to continue an application.
type ResumeSnapshot struct {
	SessionID     string   `json:"sessionId"`
	Channel       Channel  `json:"channel"`
	CurrentStep   Step     `json:"currentStep"`
	FormData      Document `json:"formData"`
	ReferenceCode string   `json:"referenceCode"`
}
