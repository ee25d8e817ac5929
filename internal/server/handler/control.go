package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// StrategyController starts and stops the trading strategy. Stop is
// cooperative: an in-flight cycle resolves its orders before the loop exits.
type StrategyController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// ControlHandler exposes start/stop control over the strategy loop.
type ControlHandler struct {
	ctrl   StrategyController
	logger *slog.Logger
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctrl StrategyController, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		ctrl:   ctrl,
		logger: logger.With(slog.String("handler", "control")),
	}
}

// StartStrategy launches the strategy loop if it is not already running.
// POST /api/control/start
func (h *ControlHandler) StartStrategy(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Start(r.Context()); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "strategy already running")
			return
		}
		h.logger.ErrorContext(r.Context(), "strategy start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start strategy")
		return
	}

	h.logger.InfoContext(r.Context(), "strategy started via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// StopStrategy requests a cooperative stop and waits for the loop to exit.
// POST /api/control/stop
func (h *ControlHandler) StopStrategy(w http.ResponseWriter, r *http.Request) {
	if !h.ctrl.Running() {
		writeError(w, http.StatusConflict, "strategy not running")
		return
	}

	if err := h.ctrl.Stop(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "strategy stop failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stop strategy")
		return
	}

	h.logger.InfoContext(r.Context(), "strategy stopped via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// GetRunState reports whether the strategy loop is active.
// GET /api/control
func (h *ControlHandler) GetRunState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": h.ctrl.Running()})
}
