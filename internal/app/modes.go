package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/zmartlabs/zmart-engine/internal/crypto"
	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
	"github.com/zmartlabs/zmart-engine/internal/indexer"
	"github.com/zmartlabs/zmart-engine/internal/scheduler"
	"github.com/zmartlabs/zmart-engine/internal/server"
	"github.com/zmartlabs/zmart-engine/internal/server/handler"
	"github.com/zmartlabs/zmart-engine/internal/server/ws"
	"github.com/zmartlabs/zmart-engine/internal/service"
)

// FullMode runs the complete node: engine, indexer, HTTP/WebSocket API, and
// the finalization scheduler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, eng)

	if a.cfg.Scheduler.Enabled {
		if err := a.startScheduler(ctx, g, deps, eng); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	} else {
		a.logger.WarnContext(ctx, "scheduler.enabled is false; resolving markets will not finalize autonomously")
	}

	return g.Wait()
}

// APIMode runs the engine with the HTTP/WebSocket API but without the
// finalization scheduler. A separate scheduler-mode node handles finalization.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("api mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, eng)

	return g.Wait()
}

// SchedulerMode runs the engine and indexer with only the finalization
// worker; no HTTP API is exposed.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)

	eng, err := a.startEngine(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}

	if err := a.startScheduler(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("scheduler mode: %w", err)
	}

	return g.Wait()
}

// startEngine constructs the engine with its indexer projection, initializes
// the global config from the protocol section, and starts the indexer loop.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*engine.Engine, error) {
	// The engine emits events under its own lock; the indexer handler only
	// enqueues them. The indirection lets the indexer be built after the
	// engine it projects.
	var ix *indexer.Indexer
	eng := engine.New(a.logger, engine.WithEventHandler(func(ev domain.Event) {
		ix.Handler()(ev)
	}))
	ix = indexer.New(eng, deps.EventStore, deps.MarketStore, deps.PositionStore,
		deps.VoteStore, deps.PriceCache, deps.SignalBus, a.logger)

	cfgAddr, err := eng.InitializeConfig(a.cfg.Protocol.ToDomain())
	if err != nil {
		return nil, fmt.Errorf("initialize config: %w", err)
	}
	a.logger.InfoContext(ctx, "protocol config initialized",
		slog.String("config_address", cfgAddr.Hex()),
	)

	g.Go(func() error {
		return ix.Run(ctx)
	})

	return eng, nil
}

// startScheduler adds the autonomous finalization loop to the errgroup.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) error {
	operator, err := a.operatorAddress()
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	opts := []scheduler.Option{
		scheduler.WithLockManager(deps.LockManager),
		scheduler.WithNotifier(deps.Notifier),
	}
	if deps.Archiver != nil {
		opts = append(opts, scheduler.WithArchiver(deps.Archiver))
	}

	sched := scheduler.New(
		eng,
		operator,
		deps.MarketStore,
		deps.FailureStore,
		scheduler.Config{
			PollInterval: a.cfg.Scheduler.PollInterval.Duration,
			BatchSize:    a.cfg.Scheduler.BatchSize,
			MaxRetries:   a.cfg.Scheduler.MaxRetries,
			RetryBackoff: a.cfg.Scheduler.RetryBackoff.Duration,
			ItemTimeout:  a.cfg.Scheduler.ItemTimeout.Duration,
			LockTTL:      a.cfg.Scheduler.LockTTL.Duration,
		},
		a.logger,
		opts...,
	)

	g.Go(func() error {
		return sched.Run(ctx)
	})

	return nil
}

// operatorAddress resolves the caller identity used on finalize calls. When
// an encrypted key is configured it is decrypted and its address derived;
// otherwise the configured backend authority address is used directly.
func (a *App) operatorAddress() (common.Address, error) {
	if a.cfg.Keys.EncryptedKeyPath == "" {
		return common.HexToAddress(a.cfg.Protocol.BackendAuthority), nil
	}

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		EncryptedKeyPath: a.cfg.Keys.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keys.KeyPassword,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("load operator key: %w", err)
	}

	addr, err := crypto.AddressFromKey(keyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("derive operator address: %w", err)
	}

	if backend := common.HexToAddress(a.cfg.Protocol.BackendAuthority); addr != backend {
		a.logger.Warn("operator key does not match configured backend authority",
			slog.String("operator", addr.Hex()),
			slog.String("backend_authority", backend.Hex()),
		)
	}

	return addr, nil
}

// startHTTPServer builds the service layer and handlers, wires the WebSocket
// hub to the signal bus, and adds the HTTP server goroutines to the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	if !a.cfg.Server.Enabled {
		a.logger.WarnContext(ctx, "server.enabled is false; no API will be exposed")
		return
	}

	marketSvc := service.NewMarketService(
		deps.MarketStore, deps.PositionStore, deps.VoteStore,
		deps.EventStore, deps.PriceCache, a.logger,
	)
	tradingSvc := service.NewTradingService(eng, a.logger)
	govSvc := service.NewGovernanceService(eng, a.logger)

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Markets:    handler.NewMarketHandler(marketSvc, govSvc, a.logger),
		Trades:     handler.NewTradeHandler(tradingSvc, a.logger),
		Positions:  handler.NewPositionHandler(marketSvc, a.logger),
		Governance: handler.NewGovernanceHandler(govSvc, a.logger),
		Admin:      handler.NewAdminHandler(govSvc, deps.FailureStore, deps.BlobReader, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
