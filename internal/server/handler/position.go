package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// PositionService defines the position queries the handler requires.
type PositionService interface {
	GetPosition(ctx context.Context, marketID uint64, owner common.Address) (domain.Position, error)
	ListPositionsByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Position, error)
	ListPositionsByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

// ListByOwner returns all positions one owner holds across markets.
// GET /api/positions?owner=0x...
func (h *PositionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.positions.ListPositionsByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// ListByMarket returns all positions in one market.
// GET /api/markets/{id}/positions
func (h *PositionHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	positions, err := h.positions.ListPositionsByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

// Get returns one owner's position in one market.
// GET /api/markets/{id}/positions/{owner}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pos, err := h.positions.GetPosition(r.Context(), id, owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}
