// Package app wires the services shared by the API server and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tireshop/internal/config"
	"tireshop/internal/core/security"
	"tireshop/internal/domain/inventorycount"
	"tireshop/internal/domain/registers/stock"
	"tireshop/internal/infrastructure/cache"
	"tireshop/internal/infrastructure/notify"
	"tireshop/internal/infrastructure/storage/postgres"
	"tireshop/internal/infrastructure/storage/postgres/count_repo"
	"tireshop/internal/infrastructure/storage/postgres/register_repo"
	"tireshop/pkg/logger"
)

// Container holds the long-lived dependencies of one process.
type Container struct {
	Pool        *postgres.Pool
	TxManager   *postgres.TxManager
	Redis       *redis.Client
	Queue       *asynq.Client
	Stock       *stock.Service
	Counts      *inventorycount.Service
	Audit       *postgres.AuditService
	Idempotency *postgres.IdempotencyStore
	Outbox      *postgres.OutboxPublisher
}

// New connects to Postgres and Redis and builds the domain services.
// The stock ledger's capture hook is registered before New returns.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	poolCfg := postgres.DefaultPoolConfig(cfg.PGDSN)
	poolCfg.MaxConns = cfg.PGMaxConns
	poolCfg.LockTimeout = cfg.PGLockTimeout
	poolCfg.StatementTimeout = cfg.PGStatementTimeout
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis only backs the progress cache and the notification queue; both degrade.
		logger.Warn(ctx, "redis ping failed", "addr", cfg.RedisAddr, "error", err)
	}
	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})

	txManager := postgres.NewTxManager(pool)
	audit, err := postgres.NewAuditService(txManager)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		_ = queue.Close()
		return nil, err
	}
	outbox := postgres.NewOutboxPublisher(txManager)

	stockService := stock.NewService(register_repo.NewStockRepo(txManager), txManager)

	countRepo := count_repo.New(txManager)
	inventorycount.NewCapture(countRepo).Register(stockService)

	counts := inventorycount.NewService(inventorycount.ServiceConfig{
		Repo:        countRepo,
		Ledger:      stockService,
		Access:      security.NewAssignmentAccess(countRepo),
		TxManager:   txManager,
		Notifier:    notify.NewAsynqNotifier(queue),
		Audit:       audit,
		Events:      outbox,
		Cache:       cache.NewProgressCache(redisClient, cfg.ProgressCacheTTL),
		Parallelism: cfg.ReconcileParallelism,
	})

	return &Container{
		Pool:        pool,
		TxManager:   txManager,
		Redis:       redisClient,
		Queue:       queue,
		Stock:       stockService,
		Counts:      counts,
		Audit:       audit,
		Idempotency: postgres.NewIdempotencyStore(txManager, cfg.IdempotencyTTL),
		Outbox:      outbox,
	}, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	if err := c.Queue.Close(); err != nil {
		logger.Warn(context.Background(), "asynq client close failed", "error", err)
	}
	if err := c.Redis.Close(); err != nil {
		logger.Warn(context.Background(), "redis close failed", "error", err)
	}
	c.Pool.Close()
}
