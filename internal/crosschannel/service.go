// Package crosschannel links an applicant's web and chat records and keeps
// them consistent.
package crosschannel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
	"application-tracker/internal/messaging"
	"application-tracker/internal/models"
	"application-tracker/internal/refcode"
	"application-tracker/internal/store"
)

// CodeIssuer mints or returns the reference code for a session.
type CodeIssuer interface {
	Generate(ctx context.Context, sessionID string) (refcode.Issued, error)
}

type Config struct {
	// ChatNumber is quoted in the instructions for continuing on chat.
	ChatNumber string
	// PhoneRegion reads local-format chat numbers. Empty means messaging.DefaultRegion.
	PhoneRegion string
}

type Service struct {
	store  store.Store
	codes  CodeIssuer
	sender messaging.Sender
	cfg    Config
	now    func() time.Time
	logger logger.Logger
	tracer trace.Tracer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the service. sender may be nil, in which case switches
// send nothing.
func NewService(st store.Store, codes CodeIssuer, sender messaging.Sender, cfg Config, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		codes:  codes,
		sender: sender,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithFields(map[string]interface{}{"component": "crosschannel"}),
		tracer: otel.Tracer("application-tracker/crosschannel"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instructions tell the applicant how to pick the application up on the other channel.
type Instructions struct {
	Message       string   `json:"message"`
	Steps         []string `json:"steps"`
	ReferenceCode string   `json:"referenceCode"`
}

type SwitchResult struct {
	NewSessionID  string       `json:"newSessionId"`
	ReferenceCode string       `json:"referenceCode"`
	CurrentStep   models.Step  `json:"currentStep"`
	Reused        bool         `json:"reused"`
	Instructions  Instructions `json:"instructions"`
}

// SwitchChannel continues the source application on target. An existing live
// record for the identifier on the target channel is reused; otherwise one is
// created. The target receives the source's step and normalized formData and
// the shared reference code, and both records point at each other. The
// notification to the applicant is best effort.
func (s *Service) SwitchChannel(ctx context.Context, sourceSessionID string, target models.Channel, targetUserIdentifier string) (res *SwitchResult, err error) {
	ctx, span := s.tracer.Start(ctx, "crosschannel.SwitchChannel", trace.WithAttributes(
		attribute.String("source.session_id", sourceSessionID),
		attribute.String("target.channel", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if !target.Valid() {
		return nil, apperrors.NewInvalidTargetError("unknown target channel: " + string(target))
	}

	source, err := s.store.Get(ctx, sourceSessionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.NewSourceNotFoundError(sourceSessionID, err)
	}
	if err != nil {
		return nil, err
	}
	if source.Channel == target {
		return nil, apperrors.NewInvalidTargetError(fmt.Sprintf("session %s is already on %s", sourceSessionID, target))
	}

	identifier, err := targetIdentifier(target, targetUserIdentifier, s.cfg.PhoneRegion)
	if err != nil {
		return nil, err
	}

	dest, reused, err := s.findOrCreate(ctx, target, identifier)
	if err != nil {
		return nil, err
	}

	now := s.now()
	code, codeExpiresAt := source.ReferenceCode, source.ReferenceCodeExpiresAt
	if !source.HasLiveReferenceCode(now) {
		issued, err := s.codes.Generate(ctx, source.SessionID)
		if err != nil {
			return nil, err
		}
		code, codeExpiresAt = issued.Code, &issued.ExpiresAt
	}

	incoming := NormalizeFor(target, source.FormData)
	dest, err = s.store.Update(ctx, dest.SessionID, func(r *models.ApplicationRecord) error {
		r.FormData = models.DeepMerge(r.FormData, incoming)
		r.CurrentStep = models.MaxStep(r.CurrentStep, source.CurrentStep)
		r.ReferenceCode = code
		exp := *codeExpiresAt
		r.ReferenceCodeExpiresAt = &exp

		r.Metadata.LinkedTo = source.SessionID
		setLink(&r.Metadata, source.Channel, source.SessionID)
		if r.Metadata.CreatedFrom == "" && !reused {
			r.Metadata.CreatedFrom = source.Channel
		}
		r.Metadata.PlatformSwitchTime = &now
		r.Metadata.LastSync = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Update(ctx, source.SessionID, func(r *models.ApplicationRecord) error {
		r.Metadata.LinkedTo = dest.SessionID
		setLink(&r.Metadata, target, dest.SessionID)
		r.Metadata.PlatformSwitchTime = &now
		r.Metadata.LastSync = &now
		return nil
	}); err != nil {
		return nil, err
	}

	instructions := s.instructions(target, code, dest.CurrentStep)
	s.notify(ctx, source, dest, instructions)

	metrics.ChannelSwitches.WithLabelValues(string(target), fmt.Sprint(reused)).Inc()
	s.logger.Info("application switched channel", map[string]interface{}{
		"sourceSessionId": source.SessionID,
		"targetSessionId": dest.SessionID,
		"targetChannel":   string(target),
		"referenceCode":   code,
		"currentStep":     dest.CurrentStep.String(),
		"reused":          reused,
	})

	return &SwitchResult{
		NewSessionID:  dest.SessionID,
		ReferenceCode: code,
		CurrentStep:   dest.CurrentStep,
		Reused:        reused,
		Instructions:  instructions,
	}, nil
}

func targetIdentifier(target models.Channel, raw, region string) (string, error) {
	raw = store.SanitizeIdentifier(raw)
	if target != models.ChannelChat {
		return raw, nil
	}
	if raw == "" {
		return "", apperrors.NewInvalidTargetError("a phone number is required to continue on chat")
	}
	phone, err := messaging.NormalizePhoneIn(raw, region)
	if err != nil {
		return "", apperrors.NewInvalidTargetError(apperrors.AsStandardError(err).Details)
	}
	return phone, nil
}

func (s *Service) findOrCreate(ctx context.Context, channel models.Channel, identifier string) (*models.ApplicationRecord, bool, error) {
	if identifier != "" {
		rec, err := s.RetrieveState(ctx, identifier, channel)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, err
		}
	}
	rec, err := s.store.Create(ctx, channel, identifier)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func setLink(md *models.Metadata, channel models.Channel, sessionID string) {
	if channel == models.ChannelChat {
		md.LinkedChatSession = sessionID
	} else {
		md.LinkedWebSession = sessionID
	}
}

func (s *Service) instructions(target models.Channel, code string, step models.Step) Instructions {
	if target == models.ChannelChat {
		contact := s.cfg.ChatNumber
		if contact == "" {
			contact = "our chat number"
		}
		return Instructions{
			Message: "Your application is now linked to chat!",
			Steps: []string{
				"Send a message to " + contact,
				"Type: resume " + code,
				"Continue your application on chat",
			},
			ReferenceCode: code,
		}
	}
	return Instructions{
		Message: "Your application is ready to continue on the web.",
		Steps: []string{
			"Open the application website",
			"Choose resume and enter code " + code,
			"Continue from the " + step.String() + " step",
		},
		ReferenceCode: code,
	}
}

// notify tells the applicant on their chat number. Failures are logged only.
func (s *Service) notify(ctx context.Context, source, dest *models.ApplicationRecord, in Instructions) {
	if s.sender == nil {
		return
	}
	phone := dest.UserIdentifier
	if dest.Channel != models.ChannelChat {
		phone = source.UserIdentifier
	}

	text := in.Message
	for _, step := range in.Steps {
		text += "\n- " + step
	}
	if err := s.sender.Send(ctx, phone, text); err != nil {
		s.logger.Warn("switch notification not delivered", map[string]interface{}{
			"sessionId": dest.SessionID,
			"error":     err,
		})
	}
}

// RetrieveState returns the newest live record for an identifier. With an
// empty channel both channels are searched. Chat identifiers are matched in
// their normalized phone form.
func (s *Service) RetrieveState(ctx context.Context, userIdentifier string, channel models.Channel) (*models.ApplicationRecord, error) {
	userIdentifier = store.SanitizeIdentifier(userIdentifier)
	if userIdentifier == "" {
		return nil, apperrors.NewInvalidInputError("a user identifier is required")
	}
	if channel != "" {
		if !channel.Valid() {
			return nil, apperrors.NewInvalidInputError("unknown channel: " + string(channel))
		}
		return s.store.FindByUserIdentifier(ctx, channel, s.identifierOn(channel, userIdentifier))
	}

	var best *models.ApplicationRecord
	for _, ch := range []models.Channel{models.ChannelWeb, models.ChannelChat} {
		rec, err := s.store.FindByUserIdentifier(ctx, ch, s.identifierOn(ch, userIdentifier))
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if best == nil || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, apperrors.NewNotFoundError("userIdentifier: " + userIdentifier)
	}
	return best, nil
}

func (s *Service) identifierOn(channel models.Channel, identifier string) string {
	if channel != models.ChannelChat {
		return identifier
	}
	if phone, err := messaging.NormalizePhoneIn(identifier, s.cfg.PhoneRegion); err == nil {
		return phone
	}
	return identifier
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
