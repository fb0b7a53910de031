package models

import "time"

// ApplicationRecord is one channel's snapshot of an application.
type ApplicationRecord struct {
	SessionID              string     `json:"sessionId"`
	Channel                Channel    `json:"channel"`
	UserIdentifier         string     `json:"userIdentifier"`
	CurrentStep            Step       `json:"currentStep"`
	FormData               Document   `json:"formData"`
	Metadata               Metadata   `json:"metadata"`
	ReferenceCode          string     `json:"referenceCode,omitempty"`
	ReferenceCodeExpiresAt *time.Time `json:"referenceCodeExpiresAt,omitempty"`
	ExpiresAt              time.Time  `json:"expiresAt"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy that shares nothing mutable with r.
func (r *ApplicationRecord) Clone() *ApplicationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.FormData = r.FormData.Clone()
	out.Metadata = r.Metadata.Clone()
	if r.ReferenceCodeExpiresAt != nil {
		t := *r.ReferenceCodeExpiresAt
		out.ReferenceCodeExpiresAt = &t
	}
	return &out
}

// HasLiveReferenceCode reports whether the record carries a code usable at now.
func (r *ApplicationRecord) HasLiveReferenceCode(now time.Time) bool {
	return r.ReferenceCode != "" && r.ReferenceCodeExpiresAt != nil && now.Before(*r.ReferenceCodeExpiresAt)
}

// SessionExpired reports whether the record's own session lifetime has passed.
func (r *ApplicationRecord) SessionExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// StatusHistoryEntry is one append-only status change.
type StatusHistoryEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	Milestone string    `json:"milestone,omitempty"`
}

// Notification is an applicant-facing message kept on the record.
type Notification struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Priority     string        `json:"priority,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Read         bool          `json:"read"`
	ReadAt       *time.Time    `json:"read_at,omitempty"`
	Milestone    string        `json:"milestone,omitempty"`
	Details      Document      `json:"details,omitempty"`
	StatusChange *StatusChange `json:"status_change,omitempty"`
}

// StatusChange records the transition a status notification announces.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ApprovalDetails is recorded when an application is approved.
type ApprovalDetails struct {
	Amount           float64    `json:"amount,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	DisbursementDate *time.Time `json:"disbursement_date,omitempty"`
}
