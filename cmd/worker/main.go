package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/finops/internal/app"
	"github.com/odyssey-erp/finops/internal/costcenter"
	jobmetrics "github.com/odyssey-erp/finops/internal/jobs"
	"github.com/odyssey-erp/finops/internal/platform/db"
	"github.com/odyssey-erp/finops/jobs"
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
	metrics := jobmetrics.NewMetrics(nil)

	notifications := jobs.NewNotificationJob(jobs.LogDeliverer{Logger: logger}, logger, metrics)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskApprovalNotify, Handler: notifications.Handle},
	}
	var cron []jobs.CronRegistration

	// Cost center checks need the ledger database; the memory driver has nothing to verify.
	if cfg.StorageDriver == app.StoragePostgres {
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()

		verify := jobs.NewCostCenterVerifyJob(costcenter.NewQueries(pool), logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskCostCenterVerify, Handler: verify.Handle})
		cron = append(cron, jobs.CronRegistration{Spec: "45 1 * * *", Task: jobs.NewCostCenterVerifyTask()})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers:  handlers,
		Cron:      cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
