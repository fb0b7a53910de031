package main

import (
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"application-tracker/internal/backoffice"
	"application-tracker/internal/common/camunda"
	"application-tracker/internal/common/config"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/refcode"

	grc "application-tracker/internal/workers/application/generate-reference-code"
	rm "application-tracker/internal/workers/application/record-milestone"
	sc "application-tracker/internal/workers/application/switch-channel"
	sa "application-tracker/internal/workers/application/synchronize-applications"
	uas "application-tracker/internal/workers/application/update-application-status"
)

type services struct {
	codes        *refcode.Service
	crossChannel *crosschannel.Service
	backoffice   *backoffice.Service
}

// startWorkers opens one job worker per enabled task type. A worker's
// configured timeout also bounds its handler.
func startWorkers(zc *camunda.Client, cfg *config.Config, svc services, validator *validation.Validator, obs *observability.Observability, log logger.Logger) []worker.JobWorker {
	timeoutOr := func(taskType string, fallback time.Duration) time.Duration {
		if t := config.GetWorkerConfig(cfg, taskType).Timeout; t > 0 {
			return config.GetDuration(t)
		}
		return fallback
	}

	handlers := []struct {
		taskType string
		build    func() worker.JobHandler
	}{
		{grc.TaskType, func() worker.JobHandler {
			c := grc.LoadConfig()
			c.Timeout = timeoutOr(grc.TaskType, c.Timeout)
			return grc.NewHandler(c, svc.codes, validator, obs, log).Handle
		}},
		{sc.TaskType, func() worker.JobHandler {
			c := sc.LoadConfig()
			c.Timeout = timeoutOr(sc.TaskType, c.Timeout)
			return sc.NewHandler(c, svc.crossChannel, validator, obs, log).Handle
		}},
		{sa.TaskType, func() worker.JobHandler {
			c := sa.LoadConfig()
			c.Timeout = timeoutOr(sa.TaskType, c.Timeout)
			return sa.NewHandler(c, svc.crossChannel, validator, obs, log).Handle
		}},
		{uas.TaskType, func() worker.JobHandler {
			c := uas.LoadConfig()
			c.Timeout = timeoutOr(uas.TaskType, c.Timeout)
			return uas.NewHandler(c, svc.backoffice, validator, obs, log).Handle
		}},
		{rm.TaskType, func() worker.JobHandler {
			c := rm.LoadConfig()
			c.Timeout = timeoutOr(rm.TaskType, c.Timeout)
			return rm.NewHandler(c, svc.backoffice, validator, obs, log).Handle
		}},
	}

	var started []worker.JobWorker
	for _, h := range handlers {
		if !config.IsWorkerEnabled(cfg, h.taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": h.taskType})
			continue
		}
		w := camunda.StartWorker(zc.Raw(), h.taskType, config.GetWorkerConfig(cfg, h.taskType), h.build(), log)
		if w != nil {
			started = append(started, w)
		}
	}
	return started
}
