package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zmartlabs/zmart-engine/internal/domain"
	"github.com/zmartlabs/zmart-engine/internal/service"
)

// AdminService defines the protocol administration methods the handler
// requires.
type AdminService interface {
	UpdateConfig(ctx context.Context, authority common.Address, cfg domain.GlobalConfig) error
	EmergencyPause(ctx context.Context, authority common.Address, paused bool) error
	CancelMarket(ctx context.Context, authority common.Address, marketID uint64) error
	Status(ctx context.Context) service.Status
}

// AdminHandler serves protocol administration endpoints. The failure store
// and blob reader are optional; their endpoints 501 when absent.
type AdminHandler struct {
	admin    AdminService
	failures domain.FailureStore
	blobs    domain.BlobReader
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, failures domain.FailureStore, blobs domain.BlobReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:    admin,
		failures: failures,
		blobs:    blobs,
		logger:   logger,
	}
}

// updateConfigRequest is the JSON body for config replacement.
type updateConfigRequest struct {
	Authority string              `json:"authority"`
	Config    domain.GlobalConfig `json:"config"`
}

// UpdateConfig replaces the protocol parameters.
// PUT /api/admin/config
func (h *AdminHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.UpdateConfig(r.Context(), authority, req.Config); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// pauseRequest is the JSON body for the emergency pause toggle.
type pauseRequest struct {
	Authority string `json:"authority"`
	Paused    bool   `json:"paused"`
}

// EmergencyPause halts or resumes user-facing instructions.
// POST /api/admin/pause
func (h *AdminHandler) EmergencyPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.EmergencyPause(r.Context(), authority, req.Paused); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

// CancelMarket aborts a market before it becomes resolvable.
// POST /api/markets/{id}/cancel
func (h *AdminHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req authorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authority, err := parseAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.CancelMarket(r.Context(), authority, id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Status reports protocol-level balances.
// GET /api/admin/status
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Status(r.Context()))
}

// ListFailures returns recent finalization failures for operator review.
// GET /api/admin/failures?limit=50
func (h *AdminHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	if h.failures == nil {
		writeError(w, http.StatusNotImplemented, "failure store not configured")
		return
	}

	opts := parseListOpts(r)
	failures, err := h.failures.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failures failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

// ListArchives returns cold-storage objects under a prefix.
// GET /api/admin/archives?prefix=archive/markets/
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotImplemented, "blob storage not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"objects": infos})
}
