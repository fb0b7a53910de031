package camunda

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/codes"

	"application-tracker/internal/common/config"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/metrics"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
)

// Executor runs one job. It receives the raw job variables and returns the
// variables to complete the job with.
type Executor func(ctx context.Context, variables []byte) (interface{}, error)

// Runner holds what every job handler does around its own logic: input
// validation, timeout, metrics, completion and error routing.
type Runner struct {
	taskType  string
	timeout   time.Duration
	validator *validation.Validator
	errors    *apperrors.ErrorHandler
	obs       *observability.Observability
	logger    logger.Logger
}

// NewRunner builds a runner for taskType. validator and obs may be nil.
func NewRunner(taskType string, timeout time.Duration, validator *validation.Validator, obs *observability.Observability, log logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Runner{
		taskType:  taskType,
		timeout:   timeout,
		validator: validator,
		errors:    apperrors.NewErrorHandler(log),
		obs:       obs,
		logger:    log,
	}
}

// Validate checks job variables against the task type's input schema.
func (r *Runner) Validate(variables []byte) error {
	if r.validator == nil {
		return nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(variables, &doc); err != nil {
		return apperrors.NewInvalidInputError("job variables are not a JSON object: " + err.Error())
	}
	return r.validator.Check(r.taskType, doc)
}

// Run executes one job and completes it, or hands the failure to the
// ErrorHandler.
func (r *Runner) Run(client worker.JobClient, job entities.Job, exec Executor) {
	start := time.Now()
	r.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	metrics.WorkerJobsActive.WithLabelValues(r.taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(r.taskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx, span := r.obs.StartJobSpan(ctx, r.taskType, job.Key)
	defer span.End()

	variables := []byte(job.Variables)
	output, err := func() (interface{}, error) {
		if err := r.Validate(variables); err != nil {
			return nil, err
		}
		return exec(ctx, variables)
	}()
	if err == nil {
		err = r.complete(ctx, client, job, output)
	}

	status := "completed"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.WorkerJobsFailed.WithLabelValues(r.taskType, string(apperrors.AsStandardError(err).Code)).Inc()
		r.errors.HandleJobError(ctx, client, job, err)
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	}
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(time.Since(start).Seconds())
	r.obs.RecordJobProcessed(ctx, r.taskType, status)
	r.obs.RecordJobDuration(ctx, r.taskType, time.Since(start), status)
}

func (r *Runner) complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := Retry(ctx, nil, "complete job", func(ctx context.Context) error {
		_, err := cmd.Send(ctx)
		return err
	}); err != nil {
		return err
	}
	r.logger.Info("job completed successfully", map[string]interface{}{"jobKey": job.Key})
	return nil
}

// StartWorker opens a job worker for taskType unless it is disabled.
func StartWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler worker.JobHandler, log logger.Logger) worker.JobWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return nil
	}

	w := client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return w
}
