// Package store persists per-channel application records.
package store

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"

	"github.com/google/uuid"
)

// Mutator transforms a record in place. Returning an error aborts the update.
type Mutator func(rec *models.ApplicationRecord) error

// Store is the single source of truth for application records.
//
// Update is atomic per session id. ClaimReferenceCode is the only place where
// reference-code uniqueness is decided.
type Store interface {
	Create(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error)
	Get(ctx context.Context, sessionID string) (*models.ApplicationRecord, error)
	Update(ctx context.Context, sessionID string, mutate Mutator) (*models.ApplicationRecord, error)

	// FindByReferenceCode returns the most recently updated record whose code is
	// still valid. It fails with ErrExpired when the code exists only on expired
	// records and with ErrNotFound when no record carries it.
	FindByReferenceCode(ctx context.Context, code string) (*models.ApplicationRecord, error)
	// FindAllByReferenceCode returns every record with a valid code, newest first.
	FindAllByReferenceCode(ctx context.Context, code string) ([]*models.ApplicationRecord, error)
	// FindByUserIdentifier returns the newest live session for an identifier on a channel.
	FindByUserIdentifier(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error)

	// ClaimReferenceCode reserves code for holder until expiresAt. It fails with
	// ErrConflict when another holder owns an unexpired claim. Re-claiming by the
	// same holder refreshes the expiry.
	ClaimReferenceCode(ctx context.Context, code, holder string, expiresAt time.Time) error
	// RenewReferenceCode moves the expiry of an unexpired claim. It fails with
	// ErrNotFound when the code has no live claim.
	RenewReferenceCode(ctx context.Context, code string, expiresAt time.Time) error

	// List returns records newest first, optionally filtered by metadata status.
	List(ctx context.Context, filter ListFilter) ([]*models.ApplicationRecord, error)
}

// ListFilter narrows List. A zero Limit means DefaultListLimit.
type ListFilter struct {
	Status string
	Limit  int
}

const DefaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return DefaultListLimit
	}
	return f.Limit
}

// Options configures record lifetimes and the clock.
type Options struct {
	WebSessionTTL  time.Duration
	ChatSessionTTL time.Duration
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.WebSessionTTL == 0 {
		o.WebSessionTTL = 24 * time.Hour
	}
	if o.ChatSessionTTL == 0 {
		o.ChatSessionTTL = 7 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func (o Options) ttl(channel models.Channel) time.Duration {
	if channel == models.ChannelChat {
		return o.ChatSessionTTL
	}
	return o.WebSessionTTL
}

// NewSessionID returns "<channel>_<32 hex chars>".
func NewSessionID(channel models.Channel) string {
	return string(channel) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NormalizeCode upper-cases and trims a reference code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// newRecord seeds an empty record at the first wizard step. Web records are
// identified by their own session id.
func newRecord(sessionID string, channel models.Channel, userIdentifier string, now time.Time, ttl time.Duration) *models.ApplicationRecord {
	if channel == models.ChannelWeb && strings.TrimSpace(userIdentifier) == "" {
		userIdentifier = sessionID
	}
	return &models.ApplicationRecord{
		SessionID:      sessionID,
		Channel:        channel,
		UserIdentifier: userIdentifier,
		CurrentStep:    models.StepLanguage,
		FormData:       models.Document{},
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// pickLive applies the shared reference-code visibility rule to the records
// bearing one code.
func pickLive(code string, candidates []*models.ApplicationRecord, now time.Time) ([]*models.ApplicationRecord, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewNotFoundError("referenceCode: " + code)
	}
	live := make([]*models.ApplicationRecord, 0, len(candidates))
	for _, rec := range candidates {
		if rec.HasLiveReferenceCode(now) {
			live = append(live, rec)
		}
	}
	if len(live) == 0 {
		return nil, apperrors.NewExpiredError("referenceCode: " + code)
	}
	sort.SliceStable(live, func(i, j int) bool {
		return live[i].UpdatedAt.After(live[j].UpdatedAt)
	})
	return live, nil
}

const maxIdentifierLength = 255

// SanitizeIdentifier strips control characters and caps the length of a user identifier.
func SanitizeIdentifier(s string) string {
	s = strings.TrimSpace(stripControl(s))
	if r := []rune(s); len(r) > maxIdentifierLength {
		s = string(r[:maxIdentifierLength])
	}
	return s
}

// SanitizeDocument returns a copy of d with control characters removed from
// every string value.
func SanitizeDocument(d models.Document) models.Document {
	if d == nil {
		return nil
	}
	out := make(models.Document, len(d))
	for k, v := range d {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return stripControl(t)
	case models.Document:
		return SanitizeDocument(t)
	case map[string]interface{}:
		return SanitizeDocument(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

func validateCreate(channel models.Channel, userIdentifier string) error {
	if !channel.Valid() {
		return apperrors.NewInvalidInputError("unknown channel: " + string(channel))
	}
	if channel == models.ChannelChat && strings.TrimSpace(userIdentifier) == "" {
		return apperrors.NewInvalidInputError("userIdentifier is required for chat records")
	}
	return nil
}
