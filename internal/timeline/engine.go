// Package timeline projects an application record's sparse milestone flags
// into an ordered, applicant-facing progress picture.
package timeline

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxNotifications is how many notifications a record keeps.
const DefaultMaxNotifications = 15

// Engine is stateless apart from its clock, id source and policies. Every
// method that changes a record returns a modified copy.
type Engine struct {
	now              func() time.Time
	newID            func(prefix string) string
	maxNotifications int
	policy           TransitionPolicy
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func(prefix string) string) Option {
	return func(e *Engine) { e.newID = gen }
}

func WithMaxNotifications(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxNotifications = n
		}
	}
}

func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		now: func() time.Time { return time.Now().UTC() },
		newID: func(prefix string) string {
			return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		},
		maxNotifications: DefaultMaxNotifications,
		policy:           AllowAll{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

