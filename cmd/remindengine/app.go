package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"reminder-engine/internal/bot"
	"reminder-engine/internal/config"
	"reminder-engine/internal/dedup"
	"reminder-engine/internal/logging"
	"reminder-engine/internal/metrics"
	"reminder-engine/internal/push"
	"reminder-engine/internal/repository"
	"reminder-engine/internal/service"
)

// app holds the wired components and what must be closed on exit.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	store    *repository.Store
	cache    dedup.Cache
	bot      *bot.Bot
	registry *prometheus.Registry
	engine   *service.Engine
	runner   *service.Runner
	closers  []func() error
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	db, err := repository.NewDB(cfg.DatabaseURL, logging.Component(log, "db"))
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.store = repository.NewStore(db, logging.Component(log, "store"))

	if cfg.RedisURL != "" {
		rc, err := dedup.NewRedisCache(ctx, cfg.RedisURL, cfg.DedupRetention)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dedup cache: %w", err)
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
		log.Info().Msg("dedup cache backed by redis")
	} else {
		a.cache = dedup.NewMemoryCache(cfg.DedupRetention, cfg.PurgeInterval)
	}

	var pusher service.PushSender
	fcm, err := push.NewFCMSender(ctx, cfg.FirebaseCredentialsFile)
	switch {
	case err == nil:
		pusher = fcm
	case errors.Is(err, push.ErrUnavailable):
		log.Warn().Msg("push channel disabled: no firebase credentials")
	default:
		log.Error().Err(err).Msg("push channel disabled: firebase init failed")
	}

	var chat service.ChatSender
	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken, cfg.CallTimeout, cfg.ChatRatePerSec, a.store.Users, logging.Component(log, "bot"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("bot: %w", err)
		}
		a.bot = b
		chat = b
	} else {
		log.Warn().Msg("chat channel disabled: no telegram token")
	}

	dispatcher := service.NewDispatcher(a.store, chat, pusher, cfg.CallTimeout, logging.Component(log, "dispatcher"), m)
	a.engine = service.NewEngine(a.store, a.store, dispatcher, a.cache, service.EngineConfig{
		Location:    cfg.Location(),
		Workers:     cfg.Workers,
		CallTimeout: cfg.CallTimeout,
		Retention:   cfg.DedupRetention,
	}, logging.Component(log, "engine"), m)

	scheduler := service.NewSchedulerService(cfg.Location(), logging.Component(log, "scheduler"))
	a.runner = service.NewRunner(a.engine, scheduler, service.RunnerConfig{
		TickInterval:  cfg.TickInterval,
		PurgeInterval: cfg.PurgeInterval,
		TickTimeout:   cfg.TickTimeout,
	}, logging.Component(log, "runner"), m)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
