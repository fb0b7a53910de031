// Package refcode mints, validates and resolves the six-character public codes
// that identify an application across channels.
package refcode

import (
	"context"
	"errors"
	"io"
	"time"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
	"application-tracker/internal/models"
	"application-tracker/internal/store"
	"application-tracker/internal/timeline"
)

const (
	DefaultAlphabet    = "ABCDEFGHJKMNPQRSTUVWXYZ123456789"
	DefaultTTL         = 30 * 24 * time.Hour
	DefaultMaxAttempts = 10

	// A live code is extended on re-issue once less than this much time is left.
	renewalWindow = 5 * 24 * time.Hour
)

type Config struct {
	Alphabet    string
	TTL         time.Duration
	MaxAttempts int
}

// Issued is a code handed to a caller.
type Issued struct {
	Code      string    `json:"referenceCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	store       store.Store
	engine      *timeline.Engine
	gen         *Generator
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	logger      logger.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces the crypto/rand source used for new codes.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.gen = NewGenerator(s.gen.alphabet, r) }
}

func NewService(st store.Store, engine *timeline.Engine, cfg Config, log logger.Logger, opts ...Option) *Service {
	if cfg.Alphabet == "" {
		cfg.Alphabet = DefaultAlphabet
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	s := &Service{
		store:       st,
		engine:      engine,
		gen:         NewGenerator(cfg.Alphabet, nil),
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.WithFields(map[string]interface{}{"component": "refcode"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the lifetime given to new codes.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// WellFormed checks shape only and never touches storage.
func (s *Service) WellFormed(code string) bool {
	return s.gen.WellFormed(code)
}

// Generate mints a code. Without a session id it returns a candidate that is
// not currently in use but reserves nothing. With a session id the code is
// claimed for that session and attached to its record; a session that already
// holds a live code gets that code back, extended if it is close to expiry.
func (s *Service) Generate(ctx context.Context, sessionID string) (Issued, error) {
	if sessionID == "" {
		return s.candidate(ctx)
	}

	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Issued{}, err
	}
	now := s.now()
	if rec.HasLiveReferenceCode(now) {
		if rec.ReferenceCodeExpiresAt.Sub(now) < renewalWindow {
			exp, err := s.Extend(ctx, rec.ReferenceCode, 0)
			if err != nil {
				return Issued{}, err
			}
			metrics.ReferenceCodesIssued.WithLabelValues("extended").Inc()
			return Issued{Code: rec.ReferenceCode, ExpiresAt: exp}, nil
		}
		metrics.ReferenceCodesIssued.WithLabelValues("reused").Inc()
		return Issued{Code: rec.ReferenceCode, ExpiresAt: *rec.ReferenceCodeExpiresAt}, nil
	}

	expiresAt := now.Add(s.ttl)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.gen.Next()
		if err != nil {
			return Issued{}, apperrors.NewInternalError(err)
		}
		err = s.store.ClaimReferenceCode(ctx, code, sessionID, expiresAt)
		if errors.Is(err, apperrors.ErrConflict) {
			metrics.ReferenceCodeCollisions.Inc()
			s.logger.Debug("reference code collision", map[string]interface{}{"attempt": attempt})
			continue
		}
		if err != nil {
			return Issued{}, err
		}

		if _, err := s.store.Update(ctx, sessionID, func(r *models.ApplicationRecord) error {
			r.ReferenceCode = code
			r.ReferenceCodeExpiresAt = &expiresAt
			return nil
		}); err != nil {
			return Issued{}, err
		}

		metrics.ReferenceCodesIssued.WithLabelValues("new").Inc()
		s.logger.Info("reference code issued", map[string]interface{}{
			"sessionId":     sessionID,
			"referenceCode": code,
			"expiresAt":     expiresAt,
		})
		return Issued{Code: code, ExpiresAt: expiresAt}, nil
	}

	s.logger.Error("reference code space exhausted", map[string]interface{}{
		"sessionId": sessionID,
		"attempts":  s.maxAttempts,
	})
	return Issued{}, apperrors.NewReferenceCodeExhaustedError(s.maxAttempts)
}

func (s *Service) candidate(ctx context.Context) (Issued, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.gen.Next()
		if err != nil {
			return Issued{}, apperrors.NewInternalError(err)
		}
		_, err = s.store.FindByReferenceCode(ctx, code)
		switch {
		case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrExpired):
			return Issued{Code: code, ExpiresAt: s.now().Add(s.ttl)}, nil
		case err == nil:
			metrics.ReferenceCodeCollisions.Inc()
		default:
			return Issued{}, err
		}
	}
	return Issued{}, apperrors.NewReferenceCodeExhaustedError(s.maxAttempts)
}

// Validate is true only for a well-formed code that resolves to a record whose
// code has not expired. Storage failures count as invalid.
func (s *Service) Validate(ctx context.Context, code string) bool {
	_, err := s.Resolve(ctx, code)
	return err == nil
}

// Resolve returns the newest live record carrying code. Malformed codes are
// NotFound without a storage lookup.
func (s *Service) Resolve(ctx context.Context, code string) (*models.ApplicationRecord, error) {
	if !s.gen.WellFormed(code) {
		metrics.ReferenceCodeLookups.WithLabelValues("malformed").Inc()
		return nil, apperrors.NewNotFoundError("malformed reference code")
	}
	rec, err := s.store.FindByReferenceCode(ctx, store.NormalizeCode(code))
	metrics.ReferenceCodeLookups.WithLabelValues(lookupResult(err)).Inc()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ResolveAll returns every live sibling record carrying code, newest first.
func (s *Service) ResolveAll(ctx context.Context, code string) ([]*models.ApplicationRecord, error) {
	if !s.gen.WellFormed(code) {
		return nil, apperrors.NewNotFoundError("malformed reference code")
	}
	return s.store.FindAllByReferenceCode(ctx, store.NormalizeCode(code))
}

// Resume returns what a wizard needs to continue the application behind code.
func (s *Service) Resume(ctx context.Context, code string) (models.ResumeSnapshot, error) {
	rec, err := s.Resolve(ctx, code)
	if err != nil {
		return models.ResumeSnapshot{}, err
	}
	return models.ResumeSnapshot{
		SessionID:     rec.SessionID,
		Channel:       rec.Channel,
		CurrentStep:   rec.CurrentStep,
		FormData:      rec.FormData,
		ReferenceCode: rec.ReferenceCode,
	}, nil
}

// ResolveStatus projects the record behind code into its status view.
func (s *Service) ResolveStatus(ctx context.Context, code string) (models.StatusView, error) {
	rec, err := s.Resolve(ctx, code)
	if err != nil {
		return models.StatusView{}, err
	}
	return s.engine.BuildStatusView(rec), nil
}

// Extend pushes a live code's expiry to now+days (the default lifetime when
// days is not positive) on the claim and on every sibling record.
func (s *Service) Extend(ctx context.Context, code string, days int) (time.Time, error) {
	if !s.gen.WellFormed(code) {
		return time.Time{}, apperrors.NewInvalidInputError("malformed reference code")
	}
	code = store.NormalizeCode(code)

	siblings, err := s.store.FindAllByReferenceCode(ctx, code)
	if err != nil {
		return time.Time{}, err
	}

	lifetime := s.ttl
	if days > 0 {
		lifetime = time.Duration(days) * 24 * time.Hour
	}
	expiresAt := s.now().Add(lifetime)

	err = s.store.RenewReferenceCode(ctx, code, expiresAt)
	if errors.Is(err, apperrors.ErrNotFound) {
		// Records carry the code but the claim is gone; re-establish it for the oldest holder.
		err = s.store.ClaimReferenceCode(ctx, code, siblings[len(siblings)-1].SessionID, expiresAt)
	}
	if err != nil {
		return time.Time{}, err
	}

	for _, rec := range siblings {
		if _, err := s.store.Update(ctx, rec.SessionID, func(r *models.ApplicationRecord) error {
			if r.ReferenceCode == code {
				r.ReferenceCodeExpiresAt = &expiresAt
			}
			return nil
		}); err != nil {
			return time.Time{}, err
		}
	}

	s.logger.Info("reference code extended", map[string]interface{}{
		"referenceCode": code,
		"expiresAt":     expiresAt,
		"records":       len(siblings),
	})
	return expiresAt, nil
}

func lookupResult(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, apperrors.ErrExpired):
		return "expired"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
