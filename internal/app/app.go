package app

import (
	"context"
	"database/sql"
	"log"
	"time"

	ordersdb "orderflow/internal/db/orders"
	sagadb "orderflow/internal/db/saga"
	"orderflow/internal/observability"
	"orderflow/internal/orders"
	"orderflow/internal/realtime"
	"orderflow/internal/saga"
)

// Config wires an App. Zero values fall back to in-memory stores, noop-free
// defaults, and a single dispatcher worker.
type Config struct {
	// DSN is the Postgres connection string. Empty means in-memory stores.
	DSN string

	// Redis, when set, backs the idempotency store instead of Postgres.
	Redis   saga.RedisIdemClient
	IdemTTL time.Duration

	Workers    int
	QueueDepth int

	StepTimeout time.Duration
	StepRetries int
	Backoff     saga.Backoff

	// Payments, Inventory, and Notifier default to in-memory clients behind
	// the reliability wrappers when nil.
	Payments  orders.PaymentClient
	Inventory orders.InventoryClient
	Notifier  orders.NotifyClient

	// Stock seeds the in-memory inventory client when Inventory is nil.
	Stock map[string]int

	Logf func(format string, args ...any)
}

// App bundles the wired service with its runtime parts.
type App struct {
	Service *orders.Service
	Orders  orders.Store
	Hub     *realtime.Hub
	Metrics *observability.Metrics

	pool    *saga.Pool
	cleanup func()
}

// Build wires the whole service: stores, saga registry, dispatcher pool,
// orchestrator, and facade. A missing or failing DSN falls back to in-memory
// stores so the process still comes up.
func Build(ctx context.Context, cfg Config) (*App, error) {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	var orderStore orders.Store = orders.NewMemoryStore()
	var instanceStore saga.InstanceStore = saga.NewMemoryInstanceStore()
	var idemStore saga.IdempotencyStore = saga.NewMemoryIdempotencyStore()

	if cfg.DSN != "" {
		sqlDB, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			logf("postgres open failed, falling back to in-memory stores: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			stores, err := buildPostgresStores(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory stores: %v", err)
				_ = sqlDB.Close()
			} else {
				logf("postgres stores enabled")
				orderStore = stores.orders
				instanceStore = stores.instances
				idemStore = stores.idempotency
				cleanup = func() {
					if err := sqlDB.Close(); err != nil {
						logf("close postgres: %v", err)
					}
				}
			}
		}
	}

	if cfg.Redis != nil {
		ttl := cfg.IdemTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		idemStore = saga.NewRedisIdempotencyStore(cfg.Redis, ttl)
		logf("redis idempotency store enabled")
	}

	payments := cfg.Payments
	if payments == nil {
		payments = orders.NewReliablePaymentClient(
			orders.NewInMemoryPaymentClient(),
			orders.NewRateLimiter(10*time.Millisecond, 20),
			orders.NewCircuitBreaker(orders.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 2 * time.Second}),
		)
	}
	inventory := cfg.Inventory
	if inventory == nil {
		inventory = orders.NewReliableInventoryClient(
			orders.NewInMemoryInventoryClient(cfg.Stock),
			orders.NewRateLimiter(10*time.Millisecond, 20),
			orders.NewCircuitBreaker(orders.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 2 * time.Second}),
		)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = orders.NewReliableNotifyClient(
			orders.NewInMemoryNotifyClient(),
			orders.NewRateLimiter(10*time.Millisecond, 20),
			orders.NewCircuitBreaker(orders.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 2 * time.Second}),
		)
	}

	definition, err := orders.FulfillmentDefinition(orders.FulfillmentConfig{
		Orders:      orderStore,
		Payments:    payments,
		Inventory:   inventory,
		Notifier:    notifier,
		StepRetries: cfg.StepRetries,
		Backoff:     cfg.Backoff,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	registry := saga.NewRegistry()
	if err := registry.Register(definition); err != nil {
		cleanup()
		return nil, err
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub()
	go hub.Run()

	// The pool hands tasks back to the orchestrator; the indirection breaks
	// the construction cycle between the two.
	var orch *saga.Orchestrator
	pool := saga.NewPool(func(ctx context.Context, task saga.Task) {
		orch.Handle(ctx, task)
	}, cfg.Workers, cfg.QueueDepth)

	orch = saga.NewOrchestrator(saga.OrchestratorConfig{
		Registry:    registry,
		Store:       instanceStore,
		Executor:    saga.NewStepExecutor(idemStore),
		Dispatcher:  pool,
		StepTimeout: cfg.StepTimeout,
		Logf:        logf,
		Metrics:     metrics,
		Notify:      hub.Publish,
	})

	service := orders.NewService(orders.ServiceConfig{
		Orders:       orderStore,
		Orchestrator: orch,
		Idempotency:  idemStore,
	})

	return &App{
		Service: service,
		Orders:  orderStore,
		Hub:     hub,
		Metrics: metrics,
		pool:    pool,
		cleanup: cleanup,
	}, nil
}

type postgresStores struct {
	orders      *ordersdb.OrderStore
	instances   *sagadb.InstanceStore
	idempotency *sagadb.IdempotencyStore
}

func buildPostgresStores(ctx context.Context, db *sql.DB) (postgresStores, error) {
	orderStore, err := ordersdb.NewOrderStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	instanceStore, err := sagadb.NewInstanceStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	idemStore, err := sagadb.NewIdempotencyStoreWithSchema(ctx, db)
	if err != nil {
		return postgresStores{}, err
	}
	return postgresStores{
		orders:      orderStore,
		instances:   instanceStore,
		idempotency: idemStore,
	}, nil
}

// Close stops the dispatcher, the realtime hub, and any external resources.
// In-flight steps finish; unscheduled work is recovered by the next start's
// resume sweep.
func (a *App) Close() {
	a.pool.Close()
	a.Hub.Stop()
	a.cleanup()
}
