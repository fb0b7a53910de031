package generatereferencecode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"application-tracker/internal/common/camunda"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/refcode"
)

const (
	TaskType = "generate-reference-code"
)

// Issuer hands out reference codes for sessions.
type Issuer interface {
	Generate(ctx context.Context, sessionID string) (refcode.Issued, error)
}

type Handler struct {
	config *Config
	codes  Issuer
	runner *camunda.Runner
	logger logger.Logger
}

func NewHandler(config *Config, codes Issuer, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		codes:  codes,
		runner: camunda.NewRunner(TaskType, config.Timeout, validator, obs, log),
		logger: log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.runner.Run(client, job, func(ctx context.Context, variables []byte) (interface{}, error) {
		var input Input
		if err := json.Unmarshal(variables, &input); err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
		}
		return h.execute(ctx, &input)
	})
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	issued, err := h.codes.Generate(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("reference code ready", map[string]interface{}{
		"sessionId":     input.SessionID,
		"referenceCode": issued.Code,
	})
	return &Output{
		ReferenceCode: issued.Code,
		ExpiresAt:     issued.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
