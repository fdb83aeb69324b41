// Package app assembles the stores, queue and job service shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"github.com/imrishuroy/hope-orderflow/internal/cache"
	"github.com/imrishuroy/hope-orderflow/internal/config"
	"github.com/imrishuroy/hope-orderflow/internal/handlers"
	"github.com/imrishuroy/hope-orderflow/internal/idempotency"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"go.uber.org/zap"
)

// App holds the wired components of one process.
type App struct {
	Config      *config.Config
	Log         *zap.Logger
	Clients     *aws.AWSClients
	Idempotency *idempotency.Store
	Orders      *orders.Store
	Creator     *orders.Creator
	Ledger      inventory.Ledger
	JobStore    *jobs.Store
	Queue       jobs.Queue
	Jobs        *jobs.Service
	Metrics     *aws.MetricsClient

	closers []func() error
}

// New builds an App from cfg. The job service is returned unstarted.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	return Assemble(ctx, cfg, log, clients)
}

// Assemble wires an App over existing AWS clients.
func Assemble(ctx context.Context, cfg *config.Config, log *zap.Logger, clients *aws.AWSClients) (*App, error) {
	a := &App{
		Config:      cfg,
		Log:         log,
		Clients:     clients,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL),
		Orders:      orders.NewStore(clients.DynamoDB, cfg.OrdersTable),
		JobStore:    jobs.NewStore(clients.DynamoDB, cfg.JobsTable),
		Metrics:     aws.NewMetricsClient(clients.CloudWatch, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled),
	}

	ledger, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger
	a.Creator = orders.NewCreator(ledger, a.Orders)

	switch cfg.QueueBackend {
	case config.QueueSQS:
		a.Queue = jobs.NewSQSQueue(aws.NewPublisher(clients.SQS, cfg.QueueURL), log, 20)
	default:
		a.Queue = jobs.NewMemoryQueue()
	}

	var statusCache *jobs.StatusCache
	if cfg.RedisAddr != "" {
		rc := cache.NewRedisCache(cfg.RedisAddr, "hope-orderflow")
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis unreachable, job status cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rc.Close()
		} else {
			statusCache = jobs.NewStatusCache(rc, cfg.JobCacheTTL, log)
			a.closers = append(a.closers, rc.Close)
		}
	}

	deps := jobs.Deps{
		Orders:        a.Orders,
		Inventory:     ledger,
		Metrics:       a.Metrics,
		Log:           log,
		SimulatedWork: cfg.JobSimulatedWork,
	}
	if cfg.ReceiptTopicARN != "" {
		deps.Notifier = aws.NewNotifier(clients.SNS, cfg.ReceiptTopicARN)
	}

	a.Jobs = jobs.NewService(a.JobStore, a.Queue, jobs.NewDefaultRegistry(deps), log, jobs.Options{
		Workers: cfg.WorkerCount,
		Timeout: cfg.JobTimeout,
		Lease:   cfg.JobLease,
		Cache:   statusCache,
		Metrics: a.Metrics,
	})
	return a, nil
}

func (a *App) openLedger(ctx context.Context) (inventory.Ledger, error) {
	if a.Config.InventoryBackend != config.InventoryPostgres {
		return inventory.NewDynamoLedger(a.Clients.DynamoDB, a.Config.InventoryTable), nil
	}
	db, err := inventory.OpenPostgres(a.Config.PostgresDSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)

	ledger := inventory.NewGormLedger(db)
	if err := ledger.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate inventory: %w", err)
	}
	return ledger, nil
}

// RouterConfig returns the handler configuration for this App.
func (a *App) RouterConfig() handlers.Config {
	return handlers.Config{
		Orders:             a.Creator,
		Jobs:               a.Jobs,
		Idempotency:        a.Idempotency,
		Stores:             []handlers.Pinger{a.Idempotency, a.Orders, a.JobStore, a.Ledger},
		JWTSecret:          []byte(a.Config.JWTSecret),
		RateLimitPerMinute: a.Config.RateLimitPerMinute,
		Metrics:            a.Metrics,
		Log:                a.Log,
	}
}

// Close releases database and cache connections.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
}
