package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reminder-engine/internal/config"
	"reminder-engine/internal/handlers"
	"reminder-engine/internal/logging"
	"reminder-engine/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "remindengine",
		Short:        "Evaluate reminder rules and deliver notifications",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the Telegram bot and the HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Evaluate every enabled rule once and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTick(cmd.Context(), cmd.OutOrStdout())
		},
	})
	return root
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	return newApp(ctx, cfg, log)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.runner.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.runner.Stop()

	if a.bot != nil {
		go func() {
			if err := a.bot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error().Err(err).Msg("bot stopped")
			}
		}()
	}

	engine := a.engine
	web := handlers.NewApp(
		handlers.NewHealthHandler(engine.Cache(), engine.Dispatcher(), logging.Component(a.log, "health")),
		handlers.NewTriggerHandler(a.runner, logging.Component(a.log, "trigger")),
		a.registry,
		logging.Component(a.log, "http"),
	)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- web.Listen(a.cfg.HTTPAddr)
	}()
	a.log.Info().Str("addr", a.cfg.HTTPAddr).Msg("reminder engine started")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	if err := web.ShutdownWithTimeout(10 * time.Second); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

type tickOutput struct {
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Summary    map[service.RuleStatus]int `json:"summary"`
	Results    []tickRuleOutput           `json:"results"`
}

type tickRuleOutput struct {
	RuleID string             `json:"rule_id"`
	Kind   string             `json:"kind,omitempty"`
	Status service.RuleStatus `json:"status"`
	Key    string             `json:"key,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runTick(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.runner.Trigger(ctx)
	if err != nil {
		return err
	}

	view := tickOutput{StartedAt: report.StartedAt, FinishedAt: report.FinishedAt, Summary: report.Summary()}
	for _, res := range report.Results {
		row := tickRuleOutput{RuleID: res.RuleID, Kind: string(res.Kind), Status: res.Status, Key: res.Key}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		view.Results = append(view.Results, row)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
