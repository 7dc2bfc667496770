// Package main is the standalone scheduler daemon, for deployments without
// EventBridge. A cron loop runs one dispatch batch per tick using the same
// application graph as the Lambda worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"lifesync/internal/app"
	"lifesync/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("lifesync scheduler starting",
		"environment", cfg.Environment,
		"cron", cfg.Dispatch.CronSpec,
		"batch_size", cfg.Dispatch.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connecting notification client: %w", err)
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Dispatch.CronSpec, func() {
		report, err := a.Service.RunScheduledTasks(ctx, cfg.Dispatch.BatchSize)
		if err != nil {
			logger.Error("dispatch tick failed", "error", err.Error())
			return
		}
		if report.Claimed > 0 {
			logger.Info("dispatch tick complete",
				"claimed", report.Claimed,
				"succeeded", report.Succeeded,
				"failed", report.Failed,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", cfg.Dispatch.CronSpec, err)
	}

	c.Start()
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Let any in-flight tick finish before closing connections.
	<-c.Stop().Done()
	logger.Info("scheduler shutdown complete")
	return nil
}
