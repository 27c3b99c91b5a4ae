package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"reminder-engine/internal/metrics"
)

const (
	triggerTimer  = "timer"
	triggerManual = "manual"
)

// RunnerConfig sets the cadence of the timer-driven jobs.
type RunnerConfig struct {
	TickInterval  time.Duration
	PurgeInterval time.Duration
	TickTimeout   time.Duration
}

// Runner drives the engine from the scheduler and on demand. Both paths
// call the same evaluation routine and share its dedup cache.
type Runner struct {
	engine    *Engine
	scheduler *SchedulerService
	cfg       RunnerConfig
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func NewRunner(engine *Engine, scheduler *SchedulerService, cfg RunnerConfig, log zerolog.Logger, m *metrics.Metrics) *Runner {
	if cfg.TickInterval <= 0 || cfg.TickInterval > TimeTolerance {
		cfg.TickInterval = TimeTolerance
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = 50 * time.Second
	}
	return &Runner{engine: engine, scheduler: scheduler, cfg: cfg, log: log, metrics: m}
}

// Start registers the tick and purge jobs and starts the scheduler.
func (r *Runner) Start() error {
	if _, err := r.scheduler.ScheduleInterval(r.cfg.TickInterval, r.runTick); err != nil {
		return err
	}
	if r.cfg.PurgeInterval > 0 {
		if _, err := r.scheduler.ScheduleInterval(r.cfg.PurgeInterval, r.runPurge); err != nil {
			return err
		}
	}
	r.scheduler.Start()
	r.log.Info().Dur("tick_interval", r.cfg.TickInterval).Dur("purge_interval", r.cfg.PurgeInterval).Msg("scheduler started")
	return nil
}

// Stop waits for a running tick to finish.
func (r *Runner) Stop() {
	r.scheduler.Stop()
}

// Trigger runs one evaluation inline for an external caller.
func (r *Runner) Trigger(ctx context.Context) (TickReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TickTimeout)
	defer cancel()
	return r.run(ctx, triggerManual)
}

func (r *Runner) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TickTimeout)
	defer cancel()
	_, _ = r.run(ctx, triggerTimer)
}

func (r *Runner) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TickTimeout)
	defer cancel()
	r.engine.Purge(ctx, time.Now())
}

func (r *Runner) run(ctx context.Context, trigger string) (TickReport, error) {
	started := time.Now()
	report, err := r.engine.Evaluate(ctx)
	elapsed := time.Since(started)

	if err != nil {
		r.metrics.ObserveTick(trigger, "error", elapsed.Seconds())
		r.log.Error().Err(err).Str("trigger", trigger).Msg("tick failed")
		return report, err
	}
	r.metrics.ObserveTick(trigger, "ok", elapsed.Seconds())

	ev := r.log.Debug()
	if report.Count(StatusSent) > 0 || report.Count(StatusFailed) > 0 || report.Count(StatusUndelivered) > 0 || trigger == triggerManual {
		ev = r.log.Info()
	}
	ev.Str("trigger", trigger).
		Int("rules", len(report.Results)).
		Int("sent", report.Count(StatusSent)).
		Int("deduped", report.Count(StatusDeduped)).
		Int("undelivered", report.Count(StatusUndelivered)).
		Int("failed", report.Count(StatusFailed)+report.Count(StatusInvalid)).
		Dur("took", elapsed).
		Msg("tick finished")
	return report, nil
}
