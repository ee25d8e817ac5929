package handler

import (
	"net/http"
	"time"

	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/trading"
)

// StatusHandler serves a point-in-time view of the running strategy: mode,
// cycle or maker state, running totals, and the current top of book. Either
// of cycle/maker may be nil depending on the configured mode.
type StatusHandler struct {
	mode      string
	symbol    string
	startedAt time.Time
	cycle     *trading.Cycle
	maker     *trading.Maker
	mirror    *book.Mirror
}

// NewStatusHandler creates a StatusHandler for the given strategy components.
func NewStatusHandler(mode, symbol string, startedAt time.Time, cycle *trading.Cycle, maker *trading.Maker, mirror *book.Mirror) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		symbol:    symbol,
		startedAt: startedAt,
		cycle:     cycle,
		maker:     maker,
		mirror:    mirror,
	}
}

// GetStatus responds with the full status document.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	doc := map[string]any{
		"mode":       h.mode,
		"symbol":     h.symbol,
		"started_at": h.startedAt.UTC().Format(time.RFC3339),
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
	}

	if h.cycle != nil {
		snap := h.cycle.Stats().Snapshot()
		cycleDoc := map[string]any{
			"state":              string(h.cycle.State()),
			"direction":          string(snap.Direction),
			"consecutive_losses": snap.ConsecutiveLosses,
			"wins":               snap.TotalWins,
			"losses":             snap.TotalLosses,
			"timeouts":           snap.TotalTimeouts,
			"trades":             snap.Trades,
			"net_pnl":            snap.TotalNetPnL,
		}
		if open, ok := h.cycle.OpenTrade(); ok {
			cycleDoc["open_trade"] = open
		}
		doc["cycle"] = cycleDoc
	}

	if h.maker != nil {
		doc["maker"] = h.maker.Snapshot()
	}

	if h.mirror != nil {
		if top, ok := h.mirror.Top(); ok {
			doc["book"] = map[string]any{
				"best_bid":       top.BestBid,
				"best_ask":       top.BestAsk,
				"mid_price":      top.MidPrice,
				"spread":         top.Spread,
				"last_update_id": top.LastUpdateID,
				"timestamp":      top.Timestamp.UTC().Format(time.RFC3339Nano),
			}
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

// GetBook responds with the current top of book only.
// GET /api/book
func (h *StatusHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	if h.mirror == nil {
		writeError(w, http.StatusServiceUnavailable, "order book not running")
		return
	}
	top, ok := h.mirror.Top()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "order book not primed")
		return
	}
	writeJSON(w, http.StatusOK, top)
}
