package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"
)

type codeClaim struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore keeps records in process. Every read returns a copy, and Update
// runs the mutator under the store lock, so mutators must not call back into
// the store.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	records map[string]*models.ApplicationRecord
	claims  map[string]codeClaim
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		records: make(map[string]*models.ApplicationRecord),
		claims:  make(map[string]codeClaim),
	}
}

func (s *MemoryStore) Create(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error) {
	userIdentifier = SanitizeIdentifier(userIdentifier)
	if err := validateCreate(channel, userIdentifier); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewSessionID(channel)
	for s.records[id] != nil {
		id = NewSessionID(channel)
	}
	rec := newRecord(id, channel, userIdentifier, s.opts.Now(), s.opts.ttl(channel))
	s.records[id] = rec
	return rec.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("sessionId: " + sessionID)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, sessionID string, mutate Mutator) (*models.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("sessionId: " + sessionID)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.SessionID = current.SessionID
	next.Channel = current.Channel
	next.CreatedAt = current.CreatedAt
	next.ReferenceCode = NormalizeCode(next.ReferenceCode)
	next.UpdatedAt = s.opts.Now()

	s.records[sessionID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) FindByReferenceCode(ctx context.Context, code string) (*models.ApplicationRecord, error) {
	live, err := s.findByCode(code)
	if err != nil {
		return nil, err
	}
	return live[0], nil
}

func (s *MemoryStore) FindAllByReferenceCode(ctx context.Context, code string) ([]*models.ApplicationRecord, error) {
	return s.findByCode(code)
}

func (s *MemoryStore) findByCode(code string) ([]*models.ApplicationRecord, error) {
	code = NormalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.ApplicationRecord
	for _, rec := range s.records {
		if code != "" && rec.ReferenceCode == code {
			candidates = append(candidates, rec.Clone())
		}
	}
	return pickLive(code, candidates, s.opts.Now())
}

func (s *MemoryStore) FindByUserIdentifier(ctx context.Context, channel models.Channel, userIdentifier string) (*models.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	var best *models.ApplicationRecord
	for _, rec := range s.records {
		if rec.Channel != channel || rec.UserIdentifier != userIdentifier || rec.SessionExpired(now) {
			continue
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, apperrors.NewNotFoundError("userIdentifier: " + userIdentifier)
	}
	return best.Clone(), nil
}

func (s *MemoryStore) ClaimReferenceCode(ctx context.Context, code, holder string, expiresAt time.Time) error {
	code = NormalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.claims[code]; ok && existing.holder != holder && s.opts.Now().Before(existing.expiresAt) {
		return apperrors.NewConflictError("referenceCode already in use: " + code)
	}
	s.claims[code] = codeClaim{holder: holder, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) RenewReferenceCode(ctx context.Context, code string, expiresAt time.Time) error {
	code = NormalizeCode(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.claims[code]
	if !ok || !s.opts.Now().Before(existing.expiresAt) {
		return apperrors.NewNotFoundError("referenceCode: " + code)
	}
	existing.expiresAt = expiresAt
	s.claims[code] = existing
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.ApplicationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := strings.ToLower(strings.TrimSpace(filter.Status))
	var out []*models.ApplicationRecord
	for _, rec := range s.records {
		if status != "" && strings.ToLower(rec.Metadata.Status) != status {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if n := filter.limit(); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
