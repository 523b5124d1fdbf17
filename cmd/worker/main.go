package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/engagetrack/engagetrack/internal/app"
	"github.com/engagetrack/engagetrack/internal/directory"
	"github.com/engagetrack/engagetrack/internal/platform/db"
	"github.com/engagetrack/engagetrack/jobs"
	"github.com/engagetrack/engagetrack/mailer"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	directoryRepo := directory.NewRepository(pool)
	directoryService := directory.NewService(directoryRepo, nil, nil, nil, logger)

	mailClient := mailer.NewResend(cfg.ResendAPIKey, cfg.MailFrom, cfg.ResendBaseURL, logger)

	emailJob := jobs.NewRoleChangeEmailJob(directoryService, mailClient, logger)
	scanJob := jobs.NewStaleAccountScanJob(directoryService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRoleChangeEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskTypeStaleAccountScan, Handler: scanJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StaleScanCron, Task: jobs.NewStaleAccountScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
