package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/bitunixbot/internal/domain"
)

// SweepTrigger runs one reconciliation pass on demand.
type SweepTrigger interface {
	Sweep(ctx context.Context) error
}

// AdminHandler exposes the observability surface: raw state keys, loss
// buffers, open positions, and a manual reconciliation trigger.
type AdminHandler struct {
	store   domain.StateStore
	cache   domain.StateCache
	buffer  domain.LossBufferStore
	sweeper SweepTrigger
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(store domain.StateStore, cache domain.StateCache, buffer domain.LossBufferStore, sweeper SweepTrigger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:   store,
		cache:   cache,
		buffer:  buffer,
		sweeper: sweeper,
		logger:  logger.With("component", "admin"),
	}
}

// ListStateKeys handles GET /api/state.
func (h *AdminHandler) ListStateKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.cache.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// GetState handles GET /api/state/{symbol}/{direction}.
func (h *AdminHandler) GetState(w http.ResponseWriter, r *http.Request) {
	symbol, direction, ok := statePathParams(w, r)
	if !ok {
		return
	}

	rec, err := h.store.Get(r.Context(), symbol, direction)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no record for "+symbol+" "+string(direction))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteState handles DELETE /api/state/{symbol}/{direction}.
func (h *AdminHandler) DeleteState(w http.ResponseWriter, r *http.Request) {
	symbol, direction, ok := statePathParams(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), symbol, direction, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("state record deleted via admin api",
		"symbol", symbol, "direction", direction)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListPositions handles GET /api/positions.
func (h *AdminHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListOpen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": recs})
}

// ListLossBuffers handles GET /api/loss-buffer.
func (h *AdminHandler) ListLossBuffers(w http.ResponseWriter, r *http.Request) {
	keys, err := h.buffer.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// DeleteLossBuffer handles DELETE /api/loss-buffer/{symbol}/{direction}/{interval}.
func (h *AdminHandler) DeleteLossBuffer(w http.ResponseWriter, r *http.Request) {
	symbol, direction, ok := statePathParams(w, r)
	if !ok {
		return
	}
	interval := r.PathValue("interval")

	if err := h.buffer.Delete(r.Context(), symbol, direction, interval); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// TriggerRecon handles POST /api/recon/trigger.
func (h *AdminHandler) TriggerRecon(w http.ResponseWriter, r *http.Request) {
	if err := h.sweeper.Sweep(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("reconciliation sweep triggered via admin api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func statePathParams(w http.ResponseWriter, r *http.Request) (string, domain.Direction, bool) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	direction := domain.Direction(strings.ToUpper(r.PathValue("direction")))
	if symbol == "" || (direction != domain.DirectionBuy && direction != domain.DirectionSell) {
		writeError(w, http.StatusBadRequest, "path must be {symbol}/{BUY|SELL}")
		return "", "", false
	}
	return symbol, direction, true
}
