package updateapplicationstatus

import "time"

type Input struct {
	SessionID        string     `json:"sessionId"`
	Status           string     `json:"status"`
	Note             string     `json:"note"`
	UpdatedBy        string     `json:"updatedBy"`
	ApprovedAmount   float64    `json:"approvedAmount"`
	DisbursementDate *time.Time `json:"disbursementDate"`
	RejectionReason  string     `json:"rejectionReason"`
}

type Output struct {
	Status   string   `json:"status"`
	Changed  bool     `json:"changed"`
	Mirrored []string `json:"mirrored"`
}
