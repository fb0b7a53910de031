package timeline

import (
	"time"

	"application-tracker/internal/models"
)

// Canonical milestone keys, in order.
const (
	MilestoneStarted      = "application_started"
	MilestoneSubmitted    = "application_submitted"
	MilestoneDocuments    = "document_verification"
	MilestoneCredit       = "credit_assessment"
	MilestoneCommittee    = "committee_review"
	MilestoneDecision     = "decision"
	MilestoneDisbursement = "disbursement"
)

type milestone struct {
	key         string
	title       string
	doneText    string
	pendingText string
	icon        string
	action      string
	// stageDays is the expected time this stage takes once it becomes current.
	stageDays int
	reached   func(rec *models.ApplicationRecord) (bool, *time.Time)
}

var canonical = []milestone{
	{
		key:         MilestoneStarted,
		title:       "Application Started",
		doneText:    "You began your application",
		pendingText: "You began your application",
		icon:        "play-circle",
		reached: func(rec *models.ApplicationRecord) (bool, *time.Time) {
			t := rec.CreatedAt
			return true, &t
		},
	},
	{
		key:         MilestoneSubmitted,
		title:       "Application Submitted",
		doneText:    "Your application was submitted for review",
		pendingText: "Complete and submit your application",
		icon:        "send",
		action:      "Complete and submit your application",
		stageDays:   3,
		reached:     submitted,
	},
	{
		key:         MilestoneDocuments,
		title:       "Document Verification",
		doneText:    "Your documents have been verified",
		pendingText: "Your documents will be verified",
		icon:        "file-check",
		action:      "Awaiting document verification",
		stageDays:   2,
		reached:     flagReached(models.FlagDocumentsVerified),
	},
	{
		key:         MilestoneCredit,
		title:       "Credit Assessment",
		doneText:    "Credit assessment completed",
		pendingText: "Evaluation of creditworthiness and financial capacity",
		icon:        "shield-check",
		action:      "Awaiting credit assessment",
		stageDays:   2,
		reached:     flagReached(models.FlagCreditCheckCompleted),
	},
	{
		key:         MilestoneCommittee,
		title:       "Committee Review",
		doneText:    "Your application has gone before the approval committee",
		pendingText: "Your application will be reviewed by the approval committee",
		icon:        "users",
		action:      "Awaiting committee review",
		stageDays:   3,
		reached:     committeeReached,
	},
	{
		key:         MilestoneDecision,
		title:       "Decision",
		doneText:    "A decision has been made on your application",
		pendingText: "Decision pending on your application",
		icon:        "gavel",
		action:      "Awaiting a decision on your application",
		stageDays:   1,
		reached:     decisionReached,
	},
	{
		key:         MilestoneDisbursement,
		title:       "Disbursement",
		doneText:    "Funds have been disbursed",
		pendingText: "Funds will be disbursed as per approval",
		icon:        "banknote",
		action:      "Prepare for loan disbursement",
		stageDays:   2,
		reached:     disbursementReached,
	},
}

func flagReached(key string) func(rec *models.ApplicationRecord) (bool, *time.Time) {
	return func(rec *models.ApplicationRecord) (bool, *time.Time) {
		at, ok := rec.Metadata.Flag(key)
		return ok, timePtr(at)
	}
}

func submitted(rec *models.ApplicationRecord) (bool, *time.Time) {
	md := rec.Metadata
	switch {
	case md.SubmittedAt != nil:
		return true, md.SubmittedAt
	case md.CompletedAt != nil:
		return true, md.CompletedAt
	case rec.CurrentStep == models.StepCompleted, NormalizeStatus(md.Status) != "" && NormalizeStatus(md.Status) != StatusInProgress:
		if len(md.StatusHistory) > 0 {
			return true, timePtr(md.StatusHistory[0].Timestamp)
		}
		return true, nil
	}
	return false, nil
}

func committeeReached(rec *models.ApplicationRecord) (bool, *time.Time) {
	if at, ok := rec.Metadata.Flag(models.FlagCommitteeReviewCompleted); ok {
		return true, timePtr(at)
	}
	if at, ok := rec.Metadata.Flag(models.FlagCommitteeReviewStarted); ok {
		return true, timePtr(at)
	}
	return false, nil
}

func decisionReached(rec *models.ApplicationRecord) (bool, *time.Time) {
	md := rec.Metadata
	switch NormalizeStatus(md.Status) {
	case StatusApproved, StatusDisbursed, StatusCompleted:
		if md.ApprovalDetails != nil && md.ApprovalDetails.ApprovedAt != nil {
			return true, md.ApprovalDetails.ApprovedAt
		}
		return true, statusReachedAt(md, StatusApproved)
	case StatusRejected:
		return true, statusReachedAt(md, StatusRejected)
	}
	return false, nil
}

func disbursementReached(rec *models.ApplicationRecord) (bool, *time.Time) {
	md := rec.Metadata
	if md.DisbursedAt != nil {
		return true, md.DisbursedAt
	}
	if at, ok := md.Flag(models.FlagFundsDisbursed); ok {
		return true, timePtr(at)
	}
	switch NormalizeStatus(md.Status) {
	case StatusDisbursed, StatusCompleted:
		return true, statusReachedAt(md, NormalizeStatus(md.Status))
	}
	return false, nil
}

// statusReachedAt finds when a status was first recorded, falling back to the
// last status update.
func statusReachedAt(md models.Metadata, status string) *time.Time {
	for _, h := range md.StatusHistory {
		if NormalizeStatus(h.Status) == status {
			return timePtr(h.Timestamp)
		}
	}
	return md.StatusUpdatedAt
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isRejected(rec *models.ApplicationRecord) bool {
	return NormalizeStatus(rec.Metadata.Status) == StatusRejected
}

type evaluated struct {
	m    milestone
	done bool
	at   *time.Time
}

// evaluate returns the applicable milestones with their completion state.
// Disbursement does not apply to rejected applications.
func evaluate(rec *models.ApplicationRecord) []evaluated {
	rejected := isRejected(rec)
	out := make([]evaluated, 0, len(canonical))
	for _, m := range canonical {
		if rejected && m.key == MilestoneDisbursement {
			continue
		}
		done, at := m.reached(rec)
		out = append(out, evaluated{m: m, done: done, at: at})
	}
	return out
}

// BuildTimeline renders every applicable canonical milestone. The first
// incomplete milestone is current; later incomplete ones are pending.
func (e *Engine) BuildTimeline(rec *models.ApplicationRecord) []models.TimelineEntry {
	items := evaluate(rec)
	entries := make([]models.TimelineEntry, 0, len(items))
	currentAssigned := false

	for _, it := range items {
		entry := models.TimelineEntry{
			Key:         it.m.key,
			Title:       it.m.title,
			Description: it.m.pendingText,
			Icon:        it.m.icon,
			Status:      models.TimelinePending,
		}
		if it.done {
			entry.Status = models.TimelineCompleted
			entry.Description = it.m.doneText
			entry.Timestamp = it.at
		} else if !currentAssigned {
			entry.Status = models.TimelineCurrent
			currentAssigned = true
		}
		if it.m.key == MilestoneDecision {
			decorateDecision(&entry, rec)
		}
		entries = append(entries, entry)
	}
	return entries
}

func decorateDecision(entry *models.TimelineEntry, rec *models.ApplicationRecord) {
	switch NormalizeStatus(rec.Metadata.Status) {
	case StatusApproved, StatusDisbursed, StatusCompleted:
		entry.Title = "Application Approved"
		entry.Description = "Your application has been approved"
		entry.Icon = "check-circle"
	case StatusRejected:
		entry.Title = "Application Rejected"
		entry.Description = "Your application was not approved"
		if rec.Metadata.RejectionReason != "" {
			entry.Description += ": " + rec.Metadata.RejectionReason
		}
		entry.Icon = "x-circle"
	}
}

// ProgressPercentage is completed/applicable milestones, rounded down.
// Disbursement only counts as applicable once it has happened, so an approved
// application with every earlier milestone done reports 100, as does a
// disbursed one.
func (e *Engine) ProgressPercentage(rec *models.ApplicationRecord) int {
	completed, applicable := 0, 0
	for _, it := range evaluate(rec) {
		if it.m.key == MilestoneDisbursement && !it.done {
			continue
		}
		applicable++
		if it.done {
			completed++
		}
	}
	if applicable == 0 {
		return 0
	}
	return completed * 100 / applicable
}

// NextAction describes what happens next for the applicant.
func (e *Engine) NextAction(rec *models.ApplicationRecord) string {
	if isRejected(rec) {
		return "You may submit a new application"
	}
	for _, it := range evaluate(rec) {
		if !it.done {
			return it.m.action
		}
	}
	return "Your loan has been disbursed"
}

// EstimatedCompletionDate is the recorded disbursement date when there is one.
// Otherwise it adds the expected duration of every outstanding stage to the
// time of the last status change (or last update), truncated to a day. It is
// nil once the application is rejected or fully complete.
func (e *Engine) EstimatedCompletionDate(rec *models.ApplicationRecord) *time.Time {
	md := rec.Metadata
	if md.ApprovalDetails != nil && md.ApprovalDetails.DisbursementDate != nil {
		d := *md.ApprovalDetails.DisbursementDate
		return &d
	}
	if isRejected(rec) {
		return nil
	}

	days := 0
	for _, it := range evaluate(rec) {
		if !it.done {
			days += it.m.stageDays
		}
	}
	if days == 0 {
		return nil
	}

	base := rec.UpdatedAt
	if md.StatusUpdatedAt != nil {
		base = *md.StatusUpdatedAt
	}
	est := base.UTC().Truncate(24*time.Hour).AddDate(0, 0, days)
	return &est
}

// Status returns the record's lifecycle label, deriving one when none was recorded.
func (e *Engine) Status(rec *models.ApplicationRecord) string {
	if s := NormalizeStatus(rec.Metadata.Status); s != "" {
		return s
	}
	if done, _ := submitted(rec); done {
		return StatusSubmitted
	}
	return StatusInProgress
}
