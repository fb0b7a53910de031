// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"application-tracker/internal/api"
	"application-tracker/internal/backoffice"
	"application-tracker/internal/common/camunda"
	"application-tracker/internal/common/config"
	"application-tracker/internal/common/database"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/common/observability"
	"application-tracker/internal/common/validation"
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/messaging"
	"application-tracker/internal/ratelimit"
	"application-tracker/internal/refcode"
	"application-tracker/internal/search"
	"application-tracker/internal/store"
	"application-tracker/internal/timeline"
	"application-tracker/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format).With(zap.String("service", cfg.App.Name))
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting application tracker...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.ReadinessCheck{}

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	checks["postgres"] = pg.Ping
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := store.Migrate(pg.DB); err != nil {
			zapLog.Fatal("migrations failed", zap.Error(err))
		}
		version, dirty, _ := store.MigrationVersion(pg.DB)
		zapLog.Info("Migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}

	// --- Redis (lookup rate limiting) ---
	var limiter api.RateLimiter
	if cfg.HTTP.RateLimit.Enabled {
		redis := database.NewRedis(cfg.Database.Redis)
		err = retryWithBackoff(func() error {
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		checks["redis"] = redis.Ping
		limiter = ratelimit.NewLimiter(redis.Client, cfg.HTTP.RateLimit.Requests, cfg.HTTP.RateLimit.Window, log)
		zapLog.Info("Redis connected successfully")
	}

	// --- Domain services ---
	policy := timeline.TransitionPolicy(timeline.AllowAll{})
	if cfg.Applications.StrictTransitions {
		policy = timeline.DefaultStateMachine()
	}
	engine := timeline.NewEngine(
		timeline.WithMaxNotifications(cfg.Applications.MaxNotifications),
		timeline.WithTransitionPolicy(policy),
	)

	records := store.NewPostgresStore(pg.DB, store.Options{
		WebSessionTTL:  cfg.Applications.WebSessionTTL,
		ChatSessionTTL: cfg.Applications.ChatSessionTTL,
	})

	codes := refcode.NewService(records, engine, refcode.Config{
		Alphabet:    cfg.Applications.ReferenceCodeAlphabet,
		TTL:         cfg.Applications.ReferenceCodeTTL,
		MaxAttempts: cfg.Applications.ReferenceCodeMaxAttempts,
	}, log)

	sender := messaging.NewFromConfig(ctx, cfg.Notifications, cfg.Applications.PhoneRegion, log)

	crossChannel := crosschannel.NewService(records, codes, sender, crosschannel.Config{
		ChatNumber:  cfg.Applications.ChatNumber,
		PhoneRegion: cfg.Applications.PhoneRegion,
	}, log)

	// --- Elasticsearch (back-office search) ---
	var index backoffice.Index
	if cfg.Search.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer := search.NewIndexer(esClient.Client, cfg.Search.Index, engine, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("search index setup failed", zap.Error(err))
		}
		index = indexer
		checks["elasticsearch"] = esClient.Ping
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.Search.Index))
	}

	office := backoffice.NewService(records, engine, codes, index, sender, backoffice.Config{
		SummaryTo:   cfg.Notifications.Email.SummaryTo,
		PhoneRegion: cfg.Applications.PhoneRegion,
	}, log)

	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.Error(err))
	}
	validator, err := validation.NewValidator(reg)
	if err != nil {
		zapLog.Fatal("activity schemas invalid", zap.Error(err))
	}

	// --- Zeebe workers ---
	if cfg.Camunda.Enabled {
		var zc *camunda.Client
		err = retryWithBackoff(func() error {
			var err error
			zc, err = camunda.NewClient(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: cfg.Camunda.UsePlaintext,
				ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zc.Close()
		checks["zeebe"] = zc.HealthCheck
		zapLog.Info("Zeebe client connected successfully")

		workers := startWorkers(zc, cfg, services{
			codes:        codes,
			crossChannel: crossChannel,
			backoffice:   office,
		}, validator, obs, log)
		defer func() {
			for _, w := range workers {
				w.Close()
				w.AwaitClose()
			}
		}()
		zapLog.Info("Workers registered", zap.Int("count", len(workers)))
	} else {
		zapLog.Info("Camunda disabled, running HTTP API only")
	}

	// --- HTTP API ---
	router := api.NewRouter(api.Deps{
		Store:        records,
		Codes:        codes,
		CrossChannel: crossChannel,
		Backoffice:   office,
		Limiter:      limiter,
		Validator:    validator,
		Logger:       log,
		AdminKey:     cfg.HTTP.AdminAPIKey,
		Checks:       checks,
	})
	if cfg.HTTP.AdminAPIKey == "" {
		zapLog.Warn("http.admin_api_key is empty, admin endpoints will refuse every request")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if err := api.Serve(ctx, srv, log); err != nil {
		zapLog.Error("http server failed", zap.Error(err))
	}

	zapLog.Info("Shutting down application tracker...")
}
