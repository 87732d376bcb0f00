// Package main is the entry point for the tire shop background worker.
// It delivers notifications, reconciles open counts on a schedule, relays the
// outbox and expires idempotency keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"tireshop/internal/app"
	"tireshop/internal/config"
	"tireshop/internal/infrastructure/notify"
	"tireshop/internal/infrastructure/storage/postgres"
	"tireshop/pkg/logger"
)

const idempotencyCleanupSpec = "@hourly"

func main() {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		Service:     "tireshop-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting tireshop worker")

	container, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to build services", "error", err)
	}
	defer container.Close()

	forwarder := notify.NewRedisForwarder(container.Redis, notify.EventsChannel)
	relay := postgres.NewOutboxRelay(container.TxManager, cfg.OutboxBatchSize, forwarder)

	reconcileTask, err := notify.NewReconcileOpenCountsTask(time.Now().UTC())
	if err != nil {
		log.Fatalw("failed to build reconcile task", "error", err)
	}

	worker, err := notify.NewWorker(notify.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []notify.TaskHandler{
			{Type: notify.TaskDispatchNotification, Handler: notify.DispatchHandler(notify.LogSink{})},
			{Type: notify.TaskReconcileOpenCounts, Handler: notify.ReconcileHandler(container.Counts)},
			{Type: notify.TaskRelayOutbox, Handler: notify.RelayHandler(relay)},
			{Type: notify.TaskCleanupIdempotency, Handler: notify.CleanupHandler(container.Idempotency)},
		},
		Cron: []notify.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask},
			{Spec: notify.Every(cfg.OutboxInterval), Task: notify.NewRelayOutboxTask()},
			{Spec: idempotencyCleanupSpec, Task: notify.NewCleanupIdempotencyTask()},
		},
	})
	if err != nil {
		log.Fatalw("failed to configure worker", "error", err)
	}

	if err := worker.Run(ctx); err != nil {
		log.Errorw("worker stopped with error", "error", err)
		return
	}
	log.Info("worker stopped")
}
