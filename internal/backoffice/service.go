// Package backoffice implements the operations staff use to move an
// application through review.
package backoffice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
	"application-tracker/internal/messaging"
	"application-tracker/internal/models"
	"application-tracker/internal/refcode"
	"application-tracker/internal/search"
	"application-tracker/internal/store"
	"application-tracker/internal/timeline"
)

// Index is the search side of the back office. Writes to it are best effort.
type Index interface {
	Index(ctx context.Context, rec *models.ApplicationRecord) error
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

type Config struct {
	// SummaryTo receives a one-line summary of every status change.
	SummaryTo string
	// PhoneRegion reads local-format applicant numbers.
	PhoneRegion string
}

type Service struct {
	store  store.Store
	engine *timeline.Engine
	codes  *refcode.Service
	index  Index
	sender messaging.Sender
	cfg    Config
	logger logger.Logger
}

// NewService wires the back office. index and sender may be nil.
func NewService(st store.Store, engine *timeline.Engine, codes *refcode.Service, index Index, sender messaging.Sender, cfg Config, log logger.Logger) *Service {
	return &Service{
		store:  st,
		engine: engine,
		codes:  codes,
		index:  index,
		sender: sender,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "backoffice"}),
	}
}

type StatusResult struct {
	Record   *models.ApplicationRecord `json:"record"`
	Changed  bool                      `json:"changed"`
	Mirrored []string                  `json:"mirrored,omitempty"`
}

// UpdateStatus applies a status change to one record and mirrors it onto the
// sibling records sharing its reference code. When the status actually
// changed the applicant and the summary recipient are messaged.
func (s *Service) UpdateStatus(ctx context.Context, sessionID string, upd timeline.StatusUpdate) (*StatusResult, error) {
	rec, changed, err := s.applyStatus(ctx, sessionID, upd)
	if err != nil {
		return nil, err
	}
	status := rec.Metadata.Status
	metrics.StatusUpdates.WithLabelValues(status).Inc()

	res := &StatusResult{Record: rec, Changed: changed}
	siblings := s.siblings(ctx, rec)
	for _, sib := range siblings {
		if _, _, err := s.applyStatus(ctx, sib.SessionID, upd); err != nil {
			s.logger.Warn("status not mirrored to sibling", map[string]interface{}{
				"sessionId": sib.SessionID,
				"error":     err,
			})
			continue
		}
		res.Mirrored = append(res.Mirrored, sib.SessionID)
	}

	s.reindex(ctx, rec.SessionID)
	for _, id := range res.Mirrored {
		s.reindex(ctx, id)
	}

	s.logger.Info("application status updated", map[string]interface{}{
		"sessionId": sessionID,
		"status":    status,
		"changed":   changed,
		"mirrored":  len(res.Mirrored),
		"updatedBy": upd.UpdatedBy,
	})

	if changed {
		s.notifyApplicant(ctx, rec, siblings)
		s.sendSummary(ctx, rec, upd)
	}
	return res, nil
}

func (s *Service) applyStatus(ctx context.Context, sessionID string, upd timeline.StatusUpdate) (*models.ApplicationRecord, bool, error) {
	var changed bool
	rec, err := s.store.Update(ctx, sessionID, func(r *models.ApplicationRecord) error {
		out, ch, err := s.engine.ApplyStatusUpdate(r, upd)
		if err != nil {
			return err
		}
		*r = *out
		changed = ch
		return nil
	})
	return rec, changed, err
}

// BulkFailure is one record a bulk update could not change.
type BulkFailure struct {
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

type BulkResult struct {
	Total     int           `json:"total"`
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkUpdateStatus applies the same update to each session independently.
func (s *Service) BulkUpdateStatus(ctx context.Context, sessionIDs []string, upd timeline.StatusUpdate) *BulkResult {
	res := &BulkResult{Total: len(sessionIDs), Succeeded: []string{}, Failed: []BulkFailure{}}
	for _, id := range sessionIDs {
		if _, err := s.UpdateStatus(ctx, id, upd); err != nil {
			res.Failed = append(res.Failed, BulkFailure{SessionID: id, Error: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// RecordMilestone sets a milestone flag with its notification on a record and
// its siblings.
func (s *Service) RecordMilestone(ctx context.Context, sessionID, key string, details models.Document) (*models.ApplicationRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.NewInvalidInputError("milestone is required")
	}
	details = store.SanitizeDocument(details)

	apply := func(id string) (*models.ApplicationRecord, error) {
		return s.store.Update(ctx, id, func(r *models.ApplicationRecord) error {
			*r = *s.engine.SendMilestoneNotification(r, key, details)
			return nil
		})
	}

	rec, err := apply(sessionID)
	if err != nil {
		return nil, err
	}
	s.reindex(ctx, rec.SessionID)

	for _, sib := range s.siblings(ctx, rec) {
		if _, err := apply(sib.SessionID); err != nil {
			s.logger.Warn("milestone not mirrored to sibling", map[string]interface{}{
				"sessionId": sib.SessionID,
				"error":     err,
			})
			continue
		}
		s.reindex(ctx, sib.SessionID)
	}

	s.logger.Info("milestone recorded", map[string]interface{}{
		"sessionId": sessionID,
		"milestone": key,
	})
	return rec, nil
}

// MarkNotificationsRead marks notifications read on the record behind code and
// returns how many remain unread. An empty id list marks all of them.
func (s *Service) MarkNotificationsRead(ctx context.Context, code string, ids []string) (int, error) {
	rec, err := s.codes.Resolve(ctx, code)
	if err != nil {
		return 0, err
	}
	rec, err = s.store.Update(ctx, rec.SessionID, func(r *models.ApplicationRecord) error {
		*r = *s.engine.MarkNotificationsRead(r, ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return timeline.UnreadCount(rec), nil
}

// Lookup resolves a code for staff. Unlike the public lookups it keeps
// Expired and NotFound apart.
func (s *Service) Lookup(ctx context.Context, code string) (*models.ApplicationRecord, error) {
	return s.codes.Resolve(ctx, code)
}

// ListQuery narrows ListApplications.
type ListQuery struct {
	Status string
	Text   string
	Limit  int
}

// ListApplications searches the index when one is configured and falls back
// to the store, filtering text in process.
func (s *Service) ListApplications(ctx context.Context, q ListQuery) (*search.Result, error) {
	if s.index != nil {
		res, err := s.index.Search(ctx, search.Query{Status: q.Status, Text: q.Text, Size: q.Limit})
		if err == nil {
			return res, nil
		}
		s.logger.Warn("search unavailable, listing from store", map[string]interface{}{"error": err})
	}

	records, err := s.store.List(ctx, store.ListFilter{Status: timeline.NormalizeStatus(q.Status), Limit: q.Limit})
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	out := &search.Result{Hits: []search.Snapshot{}}
	for _, rec := range records {
		snap := search.NewSnapshot(s.engine, rec)
		if text != "" && !matches(snap, text) {
			continue
		}
		out.Hits = append(out.Hits, snap)
	}
	out.Total = int64(len(out.Hits))
	return out, nil
}

func matches(snap search.Snapshot, text string) bool {
	for _, field := range []string{snap.ApplicantName, snap.Business, snap.ReferenceCode, snap.SessionID} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

// siblings returns the other live records sharing rec's reference code.
func (s *Service) siblings(ctx context.Context, rec *models.ApplicationRecord) []*models.ApplicationRecord {
	if rec.ReferenceCode == "" {
		return nil
	}
	all, err := s.store.FindAllByReferenceCode(ctx, rec.ReferenceCode)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && !errors.Is(err, apperrors.ErrExpired) {
			s.logger.Warn("sibling lookup failed", map[string]interface{}{"sessionId": rec.SessionID, "error": err})
		}
		return nil
	}
	out := make([]*models.ApplicationRecord, 0, len(all))
	for _, r := range all {
		if r.SessionID != rec.SessionID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Service) reindex(ctx context.Context, sessionID string) {
	if s.index == nil {
		return
	}
	rec, err := s.store.Get(ctx, sessionID)
	if err == nil {
		err = s.index.Index(ctx, rec)
	}
	if err != nil {
		s.logger.Warn("search index not updated", map[string]interface{}{"sessionId": sessionID, "error": err})
	}
}

// notifyApplicant messages every contact address known for the application.
func (s *Service) notifyApplicant(ctx context.Context, rec *models.ApplicationRecord, siblings []*models.ApplicationRecord) {
	if s.sender == nil {
		return
	}
	view := s.engine.BuildStatusView(rec)
	text := applicantMessage(rec.Metadata.Status, view.ApplicantName, rec.ReferenceCode, rec.SessionID)
	if text == "" {
		return
	}
	for _, to := range contacts(append([]*models.ApplicationRecord{rec}, siblings...), s.cfg.PhoneRegion) {
		if err := s.sender.Send(ctx, to, text); err != nil {
			s.logger.Warn("applicant notification not delivered", map[string]interface{}{
				"sessionId": rec.SessionID,
				"error":     err,
			})
		}
	}
}

func (s *Service) sendSummary(ctx context.Context, rec *models.ApplicationRecord, upd timeline.StatusUpdate) {
	if s.sender == nil || s.cfg.SummaryTo == "" {
		return
	}
	view := s.engine.BuildStatusView(rec)
	text := fmt.Sprintf("Application %s (%s, %s) is now %s.", referenceOf(rec), view.ApplicantName, view.Business, view.Status)
	if upd.UpdatedBy != "" {
		text += " Updated by " + upd.UpdatedBy + "."
	}
	if upd.Note != "" {
		text += " Note: " + upd.Note
	}
	if err := s.sender.Send(ctx, s.cfg.SummaryTo, text); err != nil {
		s.logger.Warn("status summary not delivered", map[string]interface{}{"sessionId": rec.SessionID, "error": err})
	}
}

// contacts collects distinct phone and email addresses from formResponses and
// from chat records, which are addressed by phone.
func contacts(records []*models.ApplicationRecord, region string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		key := raw
		if !messaging.IsEmail(raw) {
			phone, err := messaging.NormalizePhoneIn(raw, region)
			if err != nil {
				return
			}
			key = phone
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	for _, rec := range records {
		if rec.Channel == models.ChannelChat {
			add(rec.UserIdentifier)
		}
		add(rec.FormData.String("formResponses", "phone"))
		add(rec.FormData.String("formResponses", "phoneNumber"))
		add(rec.FormData.String("formResponses", "email"))
	}
	return out
}

func referenceOf(rec *models.ApplicationRecord) string {
	if rec.ReferenceCode != "" {
		return rec.ReferenceCode
	}
	return rec.SessionID
}

func applicantMessage(status, name, code, sessionID string) string {
	if name == "" || name == "N/A" {
		name = "Applicant"
	}
	ref := code
	if ref == "" {
		ref = sessionID
	}
	switch status {
	case timeline.StatusUnderReview:
		return fmt.Sprintf("Hello %s, your loan application (%s) is now under review. We'll notify you of any updates.", name, ref)
	case timeline.StatusApproved:
		return fmt.Sprintf("Great news %s! Your loan application (%s) has been approved. Check your status with code %s.", name, ref, ref)
	case timeline.StatusRejected:
		return fmt.Sprintf("Dear %s, your loan application (%s) requires additional review. Check your status with code %s for details.", name, ref, ref)
	case timeline.StatusDisbursed, timeline.StatusCompleted:
		return fmt.Sprintf("Congratulations %s! Your loan (%s) has been processed and disbursed.", name, ref)
	case timeline.StatusSubmitted:
		return fmt.Sprintf("Hello %s, we have received your application (%s).", name, ref)
	default:
		return ""
	}
}
