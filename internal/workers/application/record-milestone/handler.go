package recordmilestone

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"application-tracker/internal/common/camunda"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

const (
	TaskType = "record-milestone"
)

type Recorder interface {
	RecordMilestone(ctx context.Context, sessionID, key string, details models.Document) (*models.ApplicationRecord, error)
}

type Handler struct {
	config   *Config
	recorder Recorder
	runner   *camunda.Runner
	logger   logger.Logger
}

func NewHandler(config *Config, recorder Recorder, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		recorder: recorder,
		runner:   camunda.NewRunner(TaskType, config.Timeout, validator, obs, log),
		logger:   log,
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
	rec, err := h.recorder.RecordMilestone(ctx, input.SessionID, input.Milestone, input.Details)
	if err != nil {
		return nil, err
	}
	return &Output{
		Milestone:           input.Milestone,
		UnreadNotifications: timeline.UnreadCount(rec),
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
