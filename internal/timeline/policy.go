package timeline

import (
	"strings"

	apperrors "application-tracker/internal/common/errors"
)

// Lifecycle status labels the engine knows how to render. Other labels are
// stored and shown as-is.
const (
	StatusInProgress  = "in_progress"
	StatusSubmitted   = "submitted"
	StatusUnderReview = "under_review"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
	StatusDisbursed   = "disbursed"
	// StatusCompleted is the legacy label for a disbursed loan.
	StatusCompleted = "completed"
)

// NormalizeStatus lower-cases and trims a status label.
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TransitionPolicy decides whether a status change is legal.
type TransitionPolicy interface {
	Allow(from, to string) error
}

// AllowAll records any transition.
type AllowAll struct{}

func (AllowAll) Allow(from, to string) error { return nil }

// StateMachine only permits the listed transitions. An empty from-status
// (a record that never had a status) may move to any status listed as a key
// of Initial.
type StateMachine struct {
	Initial     map[string]bool
	Transitions map[string][]string
}

// DefaultStateMachine is submitted -> under_review -> {approved, rejected}, approved -> disbursed.
func DefaultStateMachine() *StateMachine {
	return &StateMachine{
		Initial: map[string]bool{StatusSubmitted: true, StatusUnderReview: true},
		Transitions: map[string][]string{
			StatusInProgress:  {StatusSubmitted},
			StatusSubmitted:   {StatusUnderReview},
			StatusUnderReview: {StatusApproved, StatusRejected},
			StatusApproved:    {StatusDisbursed, StatusCompleted},
		},
	}
}

func (m *StateMachine) Allow(from, to string) error {
	from, to = NormalizeStatus(from), NormalizeStatus(to)
	if from == to {
		return nil
	}
	if from == "" {
		if m.Initial[to] {
			return nil
		}
		return apperrors.NewInvalidStatusTransitionError(from, to)
	}
	for _, next := range m.Transitions[from] {
		if next == to {
			return nil
		}
	}
	return apperrors.NewInvalidStatusTransitionError(from, to)
}
