package synchronizeapplications

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
)

const (
	TaskType = "synchronize-applications"
)

type Synchronizer interface {
	SyncStatus(ctx context.Context, sessionA, sessionB string) (*crosschannel.SyncReport, error)
	Synchronize(ctx context.Context, primaryID, secondaryID string) (*crosschannel.SyncResult, error)
}

type Handler struct {
	config *Config
	sync   Synchronizer
	runner *camunda.Runner
	logger logger.Logger
}

func NewHandler(config *Config, sync Synchronizer, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		sync:   sync,
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

// execute merges the secondary into the primary. The reported status and
// inconsistency count describe the pair before the merge.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	report, err := h.sync.SyncStatus(ctx, input.PrimarySessionID, input.SecondarySessionID)
	if err != nil {
		return nil, err
	}
	out := &Output{
		SyncStatus:           report.Status,
		InconsistenciesCount: report.InconsistenciesCount,
	}
	if input.ReportOnly {
		return out, nil
	}

	res, err := h.sync.Synchronize(ctx, input.PrimarySessionID, input.SecondarySessionID)
	if err != nil {
		return nil, err
	}
	out.CurrentStep = res.CurrentStep.String()
	out.Changed = res.Changed
	return out, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
