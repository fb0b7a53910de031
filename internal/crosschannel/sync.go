package crosschannel

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/metrics"
	"application-tracker/internal/models"
)

const (
	SyncSynchronized = "synchronized"
	SyncDiverged     = "diverged"

	ResolutionPreferPrimary = "prefer_primary"
	ResolutionMaxStep       = "max_step"
	ResolutionMerge         = "merge"
)

// Inconsistency is one field on which two records disagree.
type Inconsistency struct {
	Field      string      `json:"field"`
	ValueA     interface{} `json:"valueA"`
	ValueB     interface{} `json:"valueB"`
	Resolution string      `json:"resolution"`
}

type SyncReport struct {
	Status               string          `json:"status"`
	InconsistenciesCount int             `json:"inconsistenciesCount"`
	Inconsistencies      []Inconsistency `json:"inconsistencies"`
	LastSync             *time.Time      `json:"lastSync"`
	UpdatedA             time.Time       `json:"updatedA"`
	UpdatedB             time.Time       `json:"updatedB"`
}

type SyncResult struct {
	SynchronizedStates map[string]*models.ApplicationRecord `json:"synchronizedStates"`
	CurrentStep        models.Step                          `json:"currentStep"`
	SyncTimestamp      time.Time                            `json:"syncTimestamp"`
	Changed            bool                                 `json:"changed"`
}

// errNoChange aborts a store update whose mutation would be a no-op.
var errNoChange = errors.New("no change")

// SyncStatus diffs two records without modifying either. Only formData keys
// present on both sides are compared.
func (s *Service) SyncStatus(ctx context.Context, sessionA, sessionB string) (report *SyncReport, err error) {
	ctx, span := s.tracer.Start(ctx, "crosschannel.SyncStatus", trace.WithAttributes(
		attribute.String("session_a", sessionA),
		attribute.String("session_b", sessionB),
	))
	defer func() { endSpan(span, err) }()

	a, b, err := s.loadPair(ctx, sessionA, sessionB)
	if err != nil {
		return nil, err
	}

	diffs := Diff(a, b)
	report = &SyncReport{
		Status:               SyncSynchronized,
		InconsistenciesCount: len(diffs),
		Inconsistencies:      diffs,
		LastSync:             latest(a.Metadata.LastSync, b.Metadata.LastSync),
		UpdatedA:             a.UpdatedAt,
		UpdatedB:             b.UpdatedAt,
	}
	if len(diffs) > 0 {
		report.Status = SyncDiverged
	}
	metrics.SyncInconsistencies.Observe(float64(len(diffs)))
	span.SetAttributes(attribute.Int("inconsistencies", len(diffs)))
	return report, nil
}

// Diff lists the disagreements between two records in field order, with
// currentStep first.
func Diff(a, b *models.ApplicationRecord) []Inconsistency {
	out := []Inconsistency{}
	if a.CurrentStep != b.CurrentStep {
		out = append(out, Inconsistency{
			Field:      "currentStep",
			ValueA:     a.CurrentStep.String(),
			ValueB:     b.CurrentStep.String(),
			Resolution: ResolutionMaxStep,
		})
	}

	keys := make([]string, 0, len(a.FormData))
	for k := range a.FormData {
		if _, ok := b.FormData[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		va, vb := a.FormData[k], b.FormData[k]
		if models.ValuesEqual(va, vb) {
			continue
		}
		resolution := ResolutionPreferPrimary
		_, aMap := a.FormData.Map(k)
		_, bMap := b.FormData.Map(k)
		if aMap && bMap {
			resolution = ResolutionMerge
		}
		out = append(out, Inconsistency{Field: k, ValueA: va, ValueB: vb, Resolution: resolution})
	}
	return out
}

// Synchronize makes primary authoritative: both records end with the later of
// the two steps and secondary's formData overlaid with primary's. Records that
// already hold the merged state are not written, so repeating the call is a
// no-op.
func (s *Service) Synchronize(ctx context.Context, primaryID, secondaryID string) (res *SyncResult, err error) {
	ctx, span := s.tracer.Start(ctx, "crosschannel.Synchronize", trace.WithAttributes(
		attribute.String("primary.session_id", primaryID),
		attribute.String("secondary.session_id", secondaryID),
	))
	defer func() {
		if err != nil {
			metrics.Synchronizations.WithLabelValues("failed").Inc()
		}
		endSpan(span, err)
	}()

	if primaryID == secondaryID {
		return nil, apperrors.NewInvalidInputError("cannot synchronize a session with itself")
	}

	primary, secondary, err := s.loadPair(ctx, primaryID, secondaryID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	step := models.MaxStep(primary.CurrentStep, secondary.CurrentStep)

	updatedPrimary, wrotePrimary, err := s.applyMerge(ctx, primary, step, now, func(r *models.ApplicationRecord) models.Document {
		return models.DeepMerge(secondary.FormData, r.FormData)
	})
	if err != nil {
		return nil, err
	}

	updatedSecondary, wroteSecondary, err := s.applyMerge(ctx, secondary, step, now, func(r *models.ApplicationRecord) models.Document {
		return models.DeepMerge(r.FormData, updatedPrimary.FormData)
	})
	if err != nil {
		return nil, err
	}

	// A merge that touched one side still stamps both.
	if wrotePrimary && !wroteSecondary {
		if updatedSecondary, err = s.stampSync(ctx, secondary.SessionID, now); err != nil {
			return nil, err
		}
	}
	if wroteSecondary && !wrotePrimary {
		if updatedPrimary, err = s.stampSync(ctx, primary.SessionID, now); err != nil {
			return nil, err
		}
	}
	changed := wrotePrimary || wroteSecondary

	outcome := "unchanged"
	if changed {
		outcome = "merged"
	}
	metrics.Synchronizations.WithLabelValues(outcome).Inc()
	s.logger.Info("applications synchronized", map[string]interface{}{
		"primarySessionId":   primaryID,
		"secondarySessionId": secondaryID,
		"currentStep":        step.String(),
		"changed":            changed,
	})

	return &SyncResult{
		SynchronizedStates: map[string]*models.ApplicationRecord{
			"primary":   updatedPrimary,
			"secondary": updatedSecondary,
		},
		CurrentStep:   step,
		SyncTimestamp: now,
		Changed:       changed,
	}, nil
}

// applyMerge writes the merged step and formData to one record. The merge is
// recomputed from the row as read under the store's lock.
func (s *Service) applyMerge(ctx context.Context, rec *models.ApplicationRecord, step models.Step, now time.Time, merged func(*models.ApplicationRecord) models.Document) (*models.ApplicationRecord, bool, error) {
	out, err := s.store.Update(ctx, rec.SessionID, func(r *models.ApplicationRecord) error {
		fd := merged(r)
		next := models.MaxStep(r.CurrentStep, step)
		if next == r.CurrentStep && models.ValuesEqual(fd, r.FormData) {
			return errNoChange
		}
		r.FormData = fd
		r.CurrentStep = next
		r.Metadata.LastSync = &now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return rec, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *Service) stampSync(ctx context.Context, sessionID string, now time.Time) (*models.ApplicationRecord, error) {
	return s.store.Update(ctx, sessionID, func(r *models.ApplicationRecord) error {
		r.Metadata.LastSync = &now
		return nil
	})
}

func (s *Service) loadPair(ctx context.Context, idA, idB string) (*models.ApplicationRecord, *models.ApplicationRecord, error) {
	a, err := s.loadSession(ctx, idA)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.loadSession(ctx, idB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (s *Service) loadSession(ctx context.Context, id string) (*models.ApplicationRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NewSessionNotFoundError(id, err)
	}
	return rec, err
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
