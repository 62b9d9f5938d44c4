package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// MarketQueryService defines the read methods the market handler requires
// from the service layer. It is declared locally so the handler package does
// not depend on the concrete service implementation.
type MarketQueryService interface {
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error)
	Count(ctx context.Context) (int64, error)
	ListEvents(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Event, error)
	ListVotes(ctx context.Context, marketID uint64, kind domain.VoteKind, opts domain.ListOpts) ([]domain.VoteRecord, error)
	Tally(ctx context.Context, marketID uint64, kind domain.VoteKind) (domain.VoteTally, error)
}

// MarketLifecycleService defines the write methods the market handler needs.
type MarketLifecycleService interface {
	CreateMarket(ctx context.Context, creator common.Address, question string, b, initialLiquidity uint64, resolutionDeadline time.Time) (domain.Market, error)
	ActivateMarket(ctx context.Context, caller common.Address, marketID uint64) error
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	queries   MarketQueryService
	lifecycle MarketLifecycleService
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(queries MarketQueryService, lifecycle MarketLifecycleService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		queries:   queries,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets filtered by lifecycle state with pagination.
// GET /api/markets?state=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	state := domain.MarketState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.MarketStateActive
	}

	markets, err := h.queries.ListByState(r.Context(), state, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list markets failed",
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.queries.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.queries.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// ListEvents returns a market's ledger events in sequence order.
// GET /api/markets/{id}/events
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.queries.ListEvents(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListVotes returns one voting round's ballots.
// GET /api/markets/{id}/votes?kind=proposal
func (h *MarketHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := parseVoteKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	votes, err := h.queries.ListVotes(r.Context(), id, kind, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tally, err := h.queries.Tally(r.Context(), id, kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"votes": votes,
		"tally": tally,
	})
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Creator            string    `json:"creator"`
	Question           string    `json:"question"`
	B                  uint64    `json:"b"`
	InitialLiquidity   uint64    `json:"initial_liquidity"`
	ResolutionDeadline time.Time `json:"resolution_deadline"`
}

// CreateMarket proposes a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.lifecycle.CreateMarket(r.Context(), creator, req.Question, req.B, req.InitialLiquidity, req.ResolutionDeadline)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// callerRequest is the JSON body for operations that only identify a caller.
type callerRequest struct {
	Caller string `json:"caller"`
}

// ActivateMarket opens an approved market for trading.
// POST /api/markets/{id}/activate
func (h *MarketHandler) ActivateMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.lifecycle.ActivateMarket(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}
