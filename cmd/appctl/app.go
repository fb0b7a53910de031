package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"application-tracker/internal/backoffice"
	"application-tracker/internal/common/config"
	"application-tracker/internal/common/database"
	"application-tracker/internal/common/logger"
	"application-tracker/internal/crosschannel"
	"application-tracker/internal/messaging"
	"application-tracker/internal/refcode"
	"application-tracker/internal/search"
	"application-tracker/internal/store"
	"application-tracker/internal/timeline"
)

// app is what the commands operate on. db is nil when the store is not
// Postgres backed.
type app struct {
	store        store.Store
	engine       *timeline.Engine
	codes        *refcode.Service
	crossChannel *crosschannel.Service
	backoffice   *backoffice.Service
	db           *sql.DB
	closers      []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

type opener func(configPath string) (*app, error)

func openFromConfig(configPath string) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewStructured(cfg.Logging.Level, "console").WithFields(map[string]interface{}{"service": "appctl"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return nil, err
	}

	var index backoffice.Index
	if cfg.Search.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			pg.Close()
			return nil, err
		}
		index = search.NewIndexer(es.Client, cfg.Search.Index, newEngine(cfg), log)
	}

	a := newApp(cfg, store.NewPostgresStore(pg.DB, store.Options{
		WebSessionTTL:  cfg.Applications.WebSessionTTL,
		ChatSessionTTL: cfg.Applications.ChatSessionTTL,
	}), index, messaging.NewFromConfig(ctx, cfg.Notifications, cfg.Applications.PhoneRegion, log), log)
	a.db = pg.DB
	a.closers = append(a.closers, pg.Close)
	return a, nil
}

func newEngine(cfg *config.Config) *timeline.Engine {
	var policy timeline.TransitionPolicy = timeline.AllowAll{}
	if cfg.Applications.StrictTransitions {
		policy = timeline.DefaultStateMachine()
	}
	return timeline.NewEngine(
		timeline.WithMaxNotifications(cfg.Applications.MaxNotifications),
		timeline.WithTransitionPolicy(policy),
	)
}

// newApp composes the services over st. index and sender may be nil.
func newApp(cfg *config.Config, st store.Store, index backoffice.Index, sender messaging.Sender, log logger.Logger, opts ...refcode.Option) *app {
	engine := newEngine(cfg)
	codes := refcode.NewService(st, engine, refcode.Config{
		Alphabet:    cfg.Applications.ReferenceCodeAlphabet,
		TTL:         cfg.Applications.ReferenceCodeTTL,
		MaxAttempts: cfg.Applications.ReferenceCodeMaxAttempts,
	}, log, opts...)

	return &app{
		store:  st,
		engine: engine,
		codes:  codes,
		crossChannel: crosschannel.NewService(st, codes, sender, crosschannel.Config{
			ChatNumber:  cfg.Applications.ChatNumber,
			PhoneRegion: cfg.Applications.PhoneRegion,
		}, log),
		backoffice: backoffice.NewService(st, engine, codes, index, sender, backoffice.Config{
			SummaryTo:   cfg.Notifications.Email.SummaryTo,
			PhoneRegion: cfg.Applications.PhoneRegion,
		}, log),
	}
}
