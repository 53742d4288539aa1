// Package control wires the engine and its infrastructure collaborators
// into a runnable application: one backend, one ingest engine, the
// optional dead-letter and audit sinks, and the health/metrics server.
//
// Grounded on the teacher's control.Watcher (internal/control/watcher.go),
// narrowed from its multi-chain indexer/backfiller/rescan-worker fleet to
// this engine's single ingest.Engine plus its two optional sinks.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/ingest"
	"github.com/chainflux/logwatch/internal/infra/audit"
	"github.com/chainflux/logwatch/internal/infra/deadletter"
	"github.com/chainflux/logwatch/internal/infra/health"
	"github.com/chainflux/logwatch/internal/infra/rpc"
	"github.com/chainflux/logwatch/internal/infra/rpc/provider"
	"github.com/chainflux/logwatch/internal/infra/rpc/routing"
)

// App is the assembled application: the ingest engine plus whatever
// optional infrastructure its configuration enabled.
type App struct {
	cfg     config.AppConfig
	log     *slog.Logger
	engine  *ingest.Engine
	backend *rpc.Backend
	queue   *ingest.Queue

	redis      *redis.Client
	deadLetter *deadletter.Queue
	auditDB    *audit.DB
	healthSrv  *health.Server
}

// New assembles an App from cfg. Redis and Postgres are optional: a zero
// Redis.Addr or Database.URL disables the corresponding sink, matching the
// engine's zero-sinks-in-tests default.
func New(cfg config.AppConfig, log *slog.Logger) (*App, error) {
	if len(cfg.RPC.Endpoints) == 0 {
		return nil, fmt.Errorf("control: at least one rpc endpoint is required")
	}

	router := routing.NewRouter(5, time.Minute)
	for i, endpoint := range cfg.RPC.Endpoints {
		name := fmt.Sprintf("rpc-%d", i)
		router.AddProvider(provider.NewHTTPProvider(name, endpoint, cfg.RPC.Timeout))
	}
	backend := rpc.NewBackend(router)

	engine, err := ingest.New(backend, cfg.Engine, log)
	if err != nil {
		return nil, fmt.Errorf("control: build engine: %w", err)
	}

	app := &App{cfg: cfg, log: log, engine: engine, backend: backend}
	app.queue = ingest.NewQueue(func(h domain.Block) {
		if _, err := engine.HandleBlock(context.Background(), h); err != nil {
			log.Warn("control: handle block failed", "block", h.Number, "error", err)
		}
	})

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("control: connect redis: %w", err)
		}
		app.redis = rdb
		app.deadLetter = deadletter.NewQueue(rdb, "logwatch")
		engine.RegisterDeadLetterSink(app.deadLetter)
	}

	if cfg.Database.URL != "" {
		db, err := audit.Open(context.Background(), audit.Config{URL: cfg.Database.URL})
		if err != nil {
			return nil, fmt.Errorf("control: connect audit database: %w", err)
		}
		if err := audit.Migrate(db, "internal/infra/audit/migrations"); err != nil {
			return nil, fmt.Errorf("control: migrate audit database: %w", err)
		}
		app.auditDB = db
		engine.RegisterAuditSink(audit.NewTrail(db))
	}

	var deadLetterCounter health.DeadLetterCounter
	if app.deadLetter != nil {
		deadLetterCounter = app.deadLetter
	}
	monitor := health.NewMonitor(func() uint64 { return engine.Head().Number }, engine.SubscriberCount, backend, deadLetterCounter)
	app.healthSrv = health.NewServer(monitor, cfg.Server.Port)

	return app, nil
}

// Engine exposes the underlying ingest engine for subscription wiring.
func (a *App) Engine() *ingest.Engine {
	return a.engine
}

// Backend exposes the underlying RPC backend, for a header poller.
func (a *App) Backend() *rpc.Backend {
	return a.backend
}

// Start brings the application's background pieces up: the health/metrics
// server and the header poller driving the engine.
func (a *App) Start(ctx context.Context) error {
	latest, err := a.backend.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("control: fetch startup head: %w", err)
	}
	head, err := a.backend.GetBlock(ctx, latest)
	if err != nil {
		return fmt.Errorf("control: fetch startup block: %w", err)
	}
	a.engine.Initialize(head)

	addresses, err := a.cfg.Engine.ParsedAddresses()
	if err != nil {
		return fmt.Errorf("control: parse startup addresses: %w", err)
	}
	for _, addrAndTopics := range addresses {
		a.engine.SubscribeToLogs(ctx, addrAndTopics, newLoggingSubscriber(a.log, addrAndTopics.Address))
	}

	go func() {
		if err := a.healthSrv.Start(); err != nil {
			a.log.Error("control: health server stopped", "error", err)
		}
	}()

	go a.poll(ctx)

	return nil
}

// poll fetches the remote chain head once per interval and hands it to the
// ingest queue, which serializes delivery into the engine even if a slow
// HandleBlock call is still running when the next tick fires.
func (a *App) poll(ctx context.Context) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := a.backend.LatestHeight(ctx)
			if err != nil {
				a.log.Warn("control: poll latest height failed", "error", err)
				continue
			}
			head, err := a.backend.GetBlock(ctx, latest)
			if err != nil {
				a.log.Warn("control: poll latest block failed", "error", err)
				continue
			}
			a.queue.AddHeader(head)
		}
	}
}

// Stop shuts down the health server and any infrastructure connections.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.healthSrv != nil {
		if err := a.healthSrv.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.auditDB != nil {
		if err := a.auditDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
