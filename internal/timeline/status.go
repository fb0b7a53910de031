package timeline

import (
	"strings"
	"time"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"
)

// StatusUpdate is a back-office status change.
type StatusUpdate struct {
	Status           string     `json:"status"`
	Note             string     `json:"note,omitempty"`
	UpdatedBy        string     `json:"updatedBy,omitempty"`
	ApprovedAmount   float64    `json:"approvedAmount,omitempty"`
	DisbursementDate *time.Time `json:"disbursementDate,omitempty"`
	RejectionReason  string     `json:"rejectionReason,omitempty"`
}

// ApplyStatusUpdate records a status change on a copy of rec. changed is false
// when the status was already set to the requested value; history is still
// appended so the note is kept, but no notification is raised.
func (e *Engine) ApplyStatusUpdate(rec *models.ApplicationRecord, upd StatusUpdate) (out *models.ApplicationRecord, changed bool, err error) {
	to := NormalizeStatus(upd.Status)
	if to == "" {
		return nil, false, apperrors.NewInvalidInputError("status is required")
	}
	from := NormalizeStatus(rec.Metadata.Status)
	if err := e.policy.Allow(from, to); err != nil {
		return nil, false, err
	}

	out = rec.Clone()
	now := e.now()
	md := &out.Metadata

	md.Status = to
	md.StatusUpdatedAt = &now
	md.StatusUpdatedBy = strings.TrimSpace(upd.UpdatedBy)
	md.StatusHistory = append(md.StatusHistory, models.StatusHistoryEntry{
		Status:    to,
		Timestamp: now,
		Note:      upd.Note,
		UpdatedBy: md.StatusUpdatedBy,
	})

	switch to {
	case StatusSubmitted:
		if md.SubmittedAt == nil {
			md.SubmittedAt = &now
		}
	case StatusRejected:
		md.RejectionReason = upd.RejectionReason
	case StatusApproved:
		amount := upd.ApprovedAmount
		if amount == 0 {
			amount, _ = out.FormData.Float("amount")
		}
		md.ApprovalDetails = &models.ApprovalDetails{
			Amount:           amount,
			ApprovedAt:       &now,
			DisbursementDate: upd.DisbursementDate,
		}
	case StatusDisbursed, StatusCompleted:
		if md.DisbursedAt == nil {
			md.DisbursedAt = &now
		}
		md.SetFlag(models.FlagFundsDisbursed, now)
	}

	changed = from != to
	if changed {
		e.appendNotification(out, e.statusNotification(from, to, now))
	}
	out.UpdatedAt = now
	return out, changed, nil
}
