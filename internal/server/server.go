package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/server/handler"
	"github.com/zmartlabs/zmart-engine/internal/server/middleware"
	"github.com/zmartlabs/zmart-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is the per-client request budget per RateWindow. Zero
	// disables rate limiting even when a limiter is supplied.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Trades     *handler.TradeHandler
	Positions  *handler.PositionHandler
	Governance *handler.GovernanceHandler
	Admin      *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the prediction market engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, auth, logging, CORS) and attaches
// the WebSocket hub. The limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market queries.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Markets.ListEvents)
	mux.HandleFunc("GET /api/markets/{id}/votes", handlers.Markets.ListVotes)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("POST /api/markets/{id}/activate", handlers.Markets.ActivateMarket)
	mux.HandleFunc("POST /api/markets/{id}/votes", handlers.Governance.SubmitVote)
	mux.HandleFunc("POST /api/markets/{id}/votes/aggregate", handlers.Governance.AggregateVotes)
	mux.HandleFunc("POST /api/markets/{id}/approve", handlers.Governance.ApproveProposal)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Governance.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Governance.InitiateDispute)
	mux.HandleFunc("POST /api/markets/{id}/finalize", handlers.Governance.FinalizeMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Admin.CancelMarket)

	// Trading.
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.Quote)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Governance.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/withdraw", handlers.Governance.WithdrawLiquidity)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListByOwner)
	mux.HandleFunc("GET /api/markets/{id}/positions", handlers.Positions.ListByMarket)
	mux.HandleFunc("GET /api/markets/{id}/positions/{owner}", handlers.Positions.Get)

	// Protocol administration.
	mux.HandleFunc("PUT /api/admin/config", handlers.Admin.UpdateConfig)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.EmergencyPause)
	mux.HandleFunc("GET /api/admin/status", handlers.Admin.Status)
	mux.HandleFunc("GET /api/admin/failures", handlers.Admin.ListFailures)
	mux.HandleFunc("GET /api/admin/archives", handlers.Admin.ListArchives)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
