package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// EventHistory reads recent telemetry events back off the bus.
type EventHistory interface {
	History(ctx context.Context, count int) ([]domain.Event, error)
}

// EventsHandler serves recent telemetry events.
type EventsHandler struct {
	history EventHistory // optional
	logger  *slog.Logger
}

// NewEventsHandler creates an EventsHandler. history may be nil when no
// event bus is configured.
func NewEventsHandler(history EventHistory, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		history: history,
		logger:  logger.With(slog.String("handler", "events")),
	}
}

// ListEvents returns recent events, newest last.
// GET /api/events?limit=
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "event history not available")
		return
	}

	opts := parseListOpts(r)
	events, err := h.history.History(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "event history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
