package timeline

import (
	"strings"
	"time"

	"application-tracker/internal/models"
)

// Notification types and priorities.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeError   = "error"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

type milestoneCopy struct {
	title   string
	message string
}

var milestoneCatalog = map[string]milestoneCopy{
	models.FlagDocumentsVerified: {
		title:   "Documents Verified",
		message: "All your submitted documents have been successfully verified.",
	},
	models.FlagCreditCheckCompleted: {
		title:   "Credit Check Completed",
		message: "Your credit assessment has been completed as part of our review process.",
	},
	models.FlagCommitteeReviewStarted: {
		title:   "Committee Review Started",
		message: "Your application is now being reviewed by our approval committee.",
	},
	models.FlagCommitteeReviewCompleted: {
		title:   "Committee Review Completed",
		message: "The approval committee has completed its review of your application.",
	},
	models.FlagApprovalCommitteeDecision: {
		title:   "Committee Decision Made",
		message: "The approval committee has made a decision on your application.",
	},
	models.FlagDisbursementPrepared: {
		title:   "Disbursement Prepared",
		message: "Your loan disbursement is being prepared for transfer.",
	},
	models.FlagFundsDisbursed: {
		title:   "Funds Disbursed",
		message: "Your loan amount has been successfully transferred to your account.",
	},
	models.FlagDeliveryStarted: {
		title:   "Delivery Started",
		message: "Your product delivery has been initiated.",
	},
}

var defaultMilestoneCopy = milestoneCopy{
	title:   "Milestone Reached",
	message: "A milestone has been reached in your application process.",
}

// MilestoneTitle returns the applicant-facing title for a milestone key.
func MilestoneTitle(key string) string {
	if c, ok := milestoneCatalog[key]; ok {
		return c.title
	}
	return defaultMilestoneCopy.title
}

// SendMilestoneNotification sets the milestone flag, appends a status history
// entry and a notification, and returns the updated copy. details["message"],
// when present, is appended to the catalogue message.
func (e *Engine) SendMilestoneNotification(rec *models.ApplicationRecord, key string, details models.Document) *models.ApplicationRecord {
	out := rec.Clone()
	now := e.now()
	key = strings.TrimSpace(key)

	c, ok := milestoneCatalog[key]
	if !ok {
		c = defaultMilestoneCopy
	}
	message := c.message
	if extra := details.String("message"); extra != "" {
		message += " " + extra
	}

	out.Metadata.SetFlag(key, now)

	status := out.Metadata.Status
	if status == "" {
		status = "pending"
	}
	out.Metadata.StatusHistory = append(out.Metadata.StatusHistory, models.StatusHistoryEntry{
		Status:    status,
		Timestamp: now,
		Note:      c.title,
		Milestone: key,
	})

	e.appendNotification(out, models.Notification{
		ID:        e.newID("milestone_"),
		Type:      TypeInfo,
		Title:     c.title,
		Message:   message,
		Priority:  PriorityMedium,
		Timestamp: now,
		Milestone: key,
		Details:   details.Clone(),
	})
	out.UpdatedAt = now
	return out
}

// MarkNotificationsRead flips read on the listed notifications. Unknown ids are
// ignored. An empty list marks every notification read.
func (e *Engine) MarkNotificationsRead(rec *models.ApplicationRecord, ids []string) *models.ApplicationRecord {
	out := rec.Clone()
	now := e.now()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	for i := range out.Metadata.Notifications {
		n := &out.Metadata.Notifications[i]
		if len(ids) > 0 && !wanted[n.ID] {
			continue
		}
		if n.Read {
			continue
		}
		n.Read = true
		at := now
		n.ReadAt = &at
	}
	return out
}

// UnreadCount counts notifications not yet read.
func UnreadCount(rec *models.ApplicationRecord) int {
	n := 0
	for _, notif := range rec.Metadata.Notifications {
		if !notif.Read {
			n++
		}
	}
	return n
}

func (e *Engine) statusNotification(from, to string, now time.Time) models.Notification {
	n := models.Notification{
		ID:           e.newID("status_"),
		Timestamp:    now,
		StatusChange: &models.StatusChange{From: from, To: to},
	}
	switch to {
	case StatusApproved:
		n.Type, n.Priority = TypeSuccess, PriorityHigh
		n.Title = "Application Approved!"
		n.Message = "Your loan application has been approved! Disbursement will be processed soon."
	case StatusRejected:
		n.Type, n.Priority = TypeError, PriorityHigh
		n.Title = "Application Update"
		n.Message = "Your application requires additional review. Please check the details or contact support."
	case StatusUnderReview:
		n.Type, n.Priority = TypeInfo, PriorityMedium
		n.Title = "Application Under Review"
		n.Message = "Our team is reviewing your application. We may contact you if additional information is needed."
	case StatusDisbursed, StatusCompleted:
		n.Type, n.Priority = TypeSuccess, PriorityHigh
		n.Title = "Loan Disbursed!"
		n.Message = "Your loan has been successfully disbursed. You can now track product delivery."
	default:
		if from == "" {
			from = "new"
		}
		n.Type, n.Priority = TypeInfo, PriorityLow
		n.Title = "Status Update"
		n.Message = "Your application status has been updated from " + from + " to " + to + "."
	}
	return n
}

// appendNotification keeps only the newest maxNotifications entries.
func (e *Engine) appendNotification(rec *models.ApplicationRecord, n models.Notification) {
	list := append(rec.Metadata.Notifications, n)
	if over := len(list) - e.maxNotifications; over > 0 {
		list = append([]models.Notification(nil), list[over:]...)
	}
	rec.Metadata.Notifications = list
}
