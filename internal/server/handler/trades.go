package handler

import (
	"log/slog"
	"net/http"

	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/trading"
)

// TradesHandler serves completed trade records. When a persistent store is
// configured it is the source of truth; otherwise the handler falls back to
// the in-memory recent-trade buffer.
type TradesHandler struct {
	store  domain.TradeStore // optional
	stats  *trading.Stats    // optional
	symbol string
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. Either store or stats may be nil.
func NewTradesHandler(store domain.TradeStore, stats *trading.Stats, symbol string, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		store:  store,
		stats:  stats,
		symbol: symbol,
		logger: logger.With(slog.String("handler", "trades")),
	}
}

// ListTrades returns completed trades, newest first.
// GET /api/trades?limit=&offset=&since=&until=
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	if h.store != nil {
		recs, err := h.store.List(r.Context(), h.symbol, opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
		count, err := h.store.Count(r.Context(), h.symbol)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "count trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to count trades")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"trades": recs,
			"count":  count,
			"limit":  opts.Limit,
			"offset": opts.Offset,
		})
		return
	}

	if h.stats != nil {
		recs := h.stats.RecentTrades(opts.Limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"trades": recs,
			"count":  len(recs),
			"limit":  opts.Limit,
			"offset": 0,
		})
		return
	}

	writeError(w, http.StatusServiceUnavailable, "trade history not available")
}
