// Package app assembles the task runner's object graph from configuration.
// All three entrypoints (HTTP API, Lambda dispatch worker, standalone cron
// daemon) share this wiring so their behavior cannot drift.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifesync/internal/alerts"
	"lifesync/internal/config"
	"lifesync/internal/db"
	"lifesync/internal/external"
	"lifesync/internal/metrics"
	"lifesync/internal/queue"
	"lifesync/internal/scheduler"
	"lifesync/internal/store"
	"lifesync/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly, but With returns
// *slog.Logger rather than types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// NewLogger builds the process-wide JSON slog logger at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// TypedLogger adapts a slog logger to the types.Logger interface consumed by
// the domain packages.
func TypedLogger(logger *slog.Logger) types.Logger {
	return &slogAdapter{logger: logger}
}

// App holds the assembled object graph.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Log    types.Logger

	Store     types.TaskStore
	Service   *scheduler.Service
	Alerts    *alerts.Dispatcher
	Trigger   types.DispatchTrigger
	Sender    *external.MultiChannelSender
	JobLocks  *db.JobLockRepository
	History   *db.JobHistoryRepository
	BatchSize int

	pool *pgxpool.Pool
}

// New builds the application. With the postgres backend the full feature set
// is wired: all task handlers, alert dispatch, distributed job locking, and
// optional SQS/CloudWatch integration. With the sqlite backend only the core
// scheduling loop and the custom task type run, for single-node development.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Cfg:       cfg,
		Logger:    logger,
		Log:       TypedLogger(logger),
		BatchSize: cfg.Dispatch.BatchSize,
	}

	if cfg.Store.Backend == "sqlite" {
		if err := a.wireSQLite(); err != nil {
			return nil, err
		}
	} else {
		if err := a.wirePostgres(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// wireSQLite builds the minimal local-mode graph.
func (a *App) wireSQLite() error {
	sqlDB, err := store.Open(a.Cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening sqlite store: %w", err)
	}
	a.Store = store.NewSQLiteTaskStore(sqlDB)

	registry := scheduler.NewRegistry(scheduler.NewCustomHandler(a.Log))
	clock := types.RealClock{}
	dispatcher := scheduler.NewDispatcher(a.Store, registry, clock, nil, a.Log)
	a.Service = scheduler.NewService(a.Store, registry, dispatcher, clock, a.Log)

	a.Logger.Info("sqlite store wired", "path", a.Cfg.Store.SQLitePath)
	return nil
}

// wirePostgres builds the full production graph.
func (a *App) wirePostgres(ctx context.Context) error {
	pool, err := db.NewPool(ctx, a.Cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	a.pool = pool

	taskRepo := db.NewTaskRepository(pool)
	alertRepo := db.NewAlertRepository(pool)
	maintRepo := db.NewMaintenanceRepository(pool)
	a.JobLocks = db.NewJobLockRepository(pool)
	a.History = db.NewJobHistoryRepository(pool)
	a.Store = taskRepo

	clock := types.RealClock{}

	// Provider clients. The WhatsApp channel is optional.
	httpClient := &http.Client{}
	resend := external.NewResendClient(httpClient, external.ResendConfig{
		APIKey:     a.Cfg.Email.ResendAPIKey.Unmask(),
		FromDomain: a.Cfg.Email.FromDomain,
		Logger:     a.Logger,
	})
	var whatsapp *external.WhatsAppClient
	if a.Cfg.WhatsApp.GatewayURL != "" {
		whatsapp = external.NewWhatsAppClient(httpClient, external.WhatsAppConfig{
			GatewayURL: a.Cfg.WhatsApp.GatewayURL,
			APIToken:   a.Cfg.WhatsApp.APIToken.Unmask(),
			SessionID:  a.Cfg.WhatsApp.SessionID,
			Logger:     a.Logger,
		})
	}
	a.Sender = external.NewMultiChannelSender(resend, whatsapp)

	a.Alerts = alerts.NewDispatcher(alertRepo, a.Sender, taskRepo, clock, a.Log, alerts.Options{
		BaseURL:           a.Cfg.Server.DashboardURL,
		UnsubscribeSecret: a.Cfg.Alerts.UnsubscribeSecret.Unmask(),
		TestMode:          a.Cfg.Alerts.TestMode,
		TestAddress:       a.Cfg.Alerts.TestAddress,
	})

	reports := db.NewReportBuilder(pool, clock)
	registry := scheduler.NewRegistry(
		scheduler.NewReminderEmailHandler(alertRepo, a.Sender, a.Log),
		scheduler.NewDataCleanupHandler(maintRepo, clock),
		scheduler.NewReportGenerationHandler(reports, maintRepo),
		scheduler.NewDonationReminderHandler(maintRepo, a.Sender, clock, a.Log),
		scheduler.NewBackupHandler(maintRepo, a.Sender, clock),
		scheduler.NewCustomHandler(a.Log),
		alerts.NewRetryHandler(a.Alerts),
	)

	var dispatchMetrics scheduler.DispatchMetrics
	awsCfg, err := a.loadAWSConfig(ctx)
	if err != nil {
		// AWS integration is optional in local environments; everything
		// else still works without it.
		a.Logger.Warn("aws config unavailable, metrics and queue trigger disabled", "error", err.Error())
	} else {
		dispatchMetrics = metrics.NewCloudWatchDispatchMetrics(
			cloudwatch.NewFromConfig(awsCfg), a.Cfg.AWS.MetricNamespace, a.Log)
		if a.Cfg.AWS.DispatchQueue != "" {
			a.Trigger = queue.NewDispatchPublisher(
				sqs.NewFromConfig(awsCfg), a.Cfg.AWS, a.Logger)
		}
	}

	dispatcher := scheduler.NewDispatcher(a.Store, registry, clock, dispatchMetrics, a.Log)
	a.Service = scheduler.NewService(a.Store, registry, dispatcher, clock, a.Log)
	return nil
}

// loadAWSConfig resolves the SDK configuration, honoring the LocalStack
// endpoint override.
func (a *App) loadAWSConfig(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.Cfg.AWS.Region),
	}
	if a.Cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(a.Cfg.AWS.EndpointURL))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Connect establishes stateful provider sessions (the WhatsApp gateway).
func (a *App) Connect(ctx context.Context) error {
	if a.Sender == nil {
		return nil
	}
	return a.Sender.Connect(ctx)
}

// Close releases provider sessions and the database pool.
func (a *App) Close(ctx context.Context) {
	if a.Sender != nil {
		if err := a.Sender.Close(ctx); err != nil {
			a.Logger.Error("error closing notification client", "error", err.Error())
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
