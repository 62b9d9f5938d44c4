package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/engine"
)

// TradingService defines the trade execution methods the handler requires.
type TradingService interface {
	Buy(ctx context.Context, trader common.Address, marketID uint64, side domain.Outcome, maxSpend, minSharesOut uint64) (engine.TradeResult, error)
	Sell(ctx context.Context, trader common.Address, marketID uint64, side domain.Outcome, shares, minProceeds uint64) (engine.TradeResult, error)
	Quote(ctx context.Context, marketID uint64, side domain.Outcome, maxSpend uint64) (engine.TradeResult, error)
}

// TradeHandler serves trading HTTP endpoints.
type TradeHandler struct {
	trading TradingService
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trading TradingService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trading: trading, logger: logger}
}

// buyRequest is the JSON body for share purchases.
type buyRequest struct {
	Trader       string `json:"trader"`
	Side         string `json:"side"`
	MaxSpend     uint64 `json:"max_spend"`
	MinSharesOut uint64 `json:"min_shares_out"`
}

// Buy purchases outcome shares with slippage protection.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader, err := parseAddress(req.Trader)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := parseOutcome(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.trading.Buy(r.Context(), trader, id, side, req.MaxSpend, req.MinSharesOut)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// sellRequest is the JSON body for share sales.
type sellRequest struct {
	Trader      string `json:"trader"`
	Side        string `json:"side"`
	Shares      uint64 `json:"shares"`
	MinProceeds uint64 `json:"min_proceeds"`
}

// Sell disposes of outcome shares with slippage protection.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req sellRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trader, err := parseAddress(req.Trader)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := parseOutcome(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.trading.Sell(r.Context(), trader, id, side, req.Shares, req.MinProceeds)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Quote previews a buy without executing it.
// GET /api/markets/{id}/quote?side=yes&spend=1000000000
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := parseOutcome(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spend, err := strconv.ParseUint(r.URL.Query().Get("spend"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid spend")
		return
	}

	res, err := h.trading.Quote(r.Context(), id, side, spend)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
