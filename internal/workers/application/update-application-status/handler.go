package updateapplicationstatus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"application-tracker/internal/backoffice"
	"application-tracker/internal/common/camunda"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/timeline"
)

const (
	TaskType = "update-application-status"
)

type Updater interface {
	UpdateStatus(ctx context.Context, sessionID string, upd timeline.StatusUpdate) (*backoffice.StatusResult, error)
}

type Handler struct {
	config  *Config
	updater Updater
	runner  *camunda.Runner
	logger  logger.Logger
}

func NewHandler(config *Config, updater Updater, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		updater: updater,
		runner:  camunda.NewRunner(TaskType, config.Timeout, validator, obs, log),
		logger:  log,
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
	if input.SessionID == "" {
		return nil, apperrors.NewInvalidInputError("sessionId is required")
	}

	res, err := h.updater.UpdateStatus(ctx, input.SessionID, timeline.StatusUpdate{
		Status:           input.Status,
		Note:             input.Note,
		UpdatedBy:        input.UpdatedBy,
		ApprovedAmount:   input.ApprovedAmount,
		DisbursementDate: input.DisbursementDate,
		RejectionReason:  input.RejectionReason,
	})
	if err != nil {
		return nil, err
	}

	mirrored := res.Mirrored
	if mirrored == nil {
		mirrored = []string{}
	}
	return &Output{
		Status:   res.Record.Metadata.Status,
		Changed:  res.Changed,
		Mirrored: mirrored,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
