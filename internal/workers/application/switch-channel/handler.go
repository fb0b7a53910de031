package switchchannel

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
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/models"
)

const (
	TaskType = "switch-channel"
)

type Switcher interface {
	SwitchChannel(ctx context.Context, sourceSessionID string, target models.Channel, targetUserIdentifier string) (*crosschannel.SwitchResult, error)
}

type Handler struct {
	config   *Config
	switcher Switcher
	runner   *camunda.Runner
	logger   logger.Logger
}

func NewHandler(config *Config, switcher Switcher, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		switcher: switcher,
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
	target, err := models.ParseChannel(input.TargetChannel)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	res, err := h.switcher.SwitchChannel(ctx, input.SourceSessionID, target, input.TargetUserIdentifier)
	if err != nil {
		return nil, err
	}
	return &Output{
		NewSessionID:  res.NewSessionID,
		ReferenceCode: res.ReferenceCode,
		CurrentStep:   res.CurrentStep.String(),
		Reused:        res.Reused,
		Instructions:  res.Instructions,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
