package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/trading"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(time.Now().Add(-90 * time.Second))
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["uptime"] == "" {
		t.Error("uptime missing")
	}
}

func TestListTradesFallsBackToStats(t *testing.T) {
	stats := trading.NewStats(domain.DirectionLong, 0, 10)
	stats.RecordTrade(domain.TradeRecord{ID: "a", Result: domain.TradeResultWin, NetPnL: 1})
	stats.RecordTrade(domain.TradeRecord{ID: "b", Result: domain.TradeResultLoss, NetPnL: -1})

	h := NewTradesHandler(nil, stats, "BTCUSDT", testLogger())
	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Trades []domain.TradeRecord `json:"trades"`
		Count  int                  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || len(body.Trades) != 2 {
		t.Fatalf("count = %d, trades = %d, want 2 each", body.Count, len(body.Trades))
	}
	if body.Trades[0].ID != "b" {
		t.Errorf("newest first: got %s, want b", body.Trades[0].ID)
	}
}

func TestListTradesUnavailable(t *testing.T) {
	h := NewTradesHandler(nil, nil, "BTCUSDT", testLogger())
	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListEventsWithoutBus(t *testing.T) {
	h := NewEventsHandler(nil, testLogger())
	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type fakeController struct {
	running  bool
	startErr error
	stopped  bool
}

func (f *fakeController) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.running = false
	f.stopped = true
	return nil
}

func (f *fakeController) Running() bool { return f.running }

func TestControlStartStop(t *testing.T) {
	ctrl := &fakeController{}
	h := NewControlHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.StartStrategy(rec, httptest.NewRequest(http.MethodPost, "/api/control/start", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", rec.Code)
	}
	if !ctrl.running {
		t.Fatal("controller not started")
	}

	rec = httptest.NewRecorder()
	h.StopStrategy(rec, httptest.NewRequest(http.MethodPost, "/api/control/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}
	if !ctrl.stopped {
		t.Fatal("controller not stopped")
	}

	// Stopping again conflicts.
	rec = httptest.NewRecorder()
	h.StopStrategy(rec, httptest.NewRequest(http.MethodPost, "/api/control/stop", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second stop status = %d, want 409", rec.Code)
	}
}

func TestControlStartAlreadyRunning(t *testing.T) {
	ctrl := &fakeController{startErr: domain.ErrAlreadyRunning}
	h := NewControlHandler(ctrl, testLogger())

	rec := httptest.NewRecorder()
	h.StartStrategy(rec, httptest.NewRequest(http.MethodPost, "/api/control/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 50, 0},
		{"explicit", "limit=10&offset=20", 10, 20},
		{"clamped", "limit=9999", 500, 0},
		{"garbage ignored", "limit=abc&offset=-3", 50, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/trades?"+tc.query, nil)
			opts := parseListOpts(r)
			if opts.Limit != tc.wantLimit || opts.Offset != tc.wantOffset {
				t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d",
					opts.Limit, opts.Offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}
