package trading

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/lifecycle"
)

// fakeVenue assigns sequential order ids and answers status queries from
// per-order scripts consumed front to back, with the last entry repeating.
type fakeVenue struct {
	mu sync.Mutex

	nextID  int64
	placed  []domain.OrderRequest
	scripts map[int64][]domain.OrderState

	// onPlace lets a test script the next order's statuses as soon as its
	// id is known.
	onPlace func(id int64, req domain.OrderRequest) []domain.OrderState

	canceled     []int64
	canceledAlgo []int64
	cancelErrs   map[int64]error

	// fillOnCancel simulates a fill racing the cancel: after a cancel the
	// order's status reads FILLED.
	fillOnCancel bool

	position domain.Position
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		scripts:    make(map[int64][]domain.OrderState),
		cancelErrs: make(map[int64]error),
	}
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.placed = append(f.placed, req)
	if f.onPlace != nil {
		if script := f.onPlace(id, req); script != nil {
			f.scripts[id] = script
		}
	}
	ack := domain.OrderAck{OrderID: id, Status: domain.OrderStatusNew}
	if req.Type == domain.OrderTypeMarket {
		ack.Status = domain.OrderStatusFilled
		if len(f.scripts[id]) > 0 {
			ack.AvgPrice = f.scripts[id][0].AvgPrice
		}
	}
	return ack, nil
}

func (f *fakeVenue) PlaceAlgoOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	ack, err := f.PlaceOrder(ctx, req)
	if err != nil {
		return ack, err
	}
	ack.AlgoOrderID = ack.OrderID
	ack.OrderID = 0
	return ack, nil
}

func (f *fakeVenue) QueryOrder(_ context.Context, _ string, orderID int64) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.scripts[orderID]
	if len(script) == 0 {
		return domain.OrderState{OrderID: orderID, Status: domain.OrderStatusNew}, nil
	}
	st := script[0]
	if len(script) > 1 {
		f.scripts[orderID] = script[1:]
	}
	st.OrderID = orderID
	return st, nil
}

func (f *fakeVenue) QueryAlgoOrder(ctx context.Context, symbol string, algoID int64) (domain.OrderState, error) {
	return f.QueryOrder(ctx, symbol, algoID)
}

func (f *fakeVenue) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	if f.fillOnCancel {
		f.scripts[orderID] = []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
	}
	return f.cancelErrs[orderID]
}

func (f *fakeVenue) CancelAlgoOrder(_ context.Context, _ string, algoID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceledAlgo = append(f.canceledAlgo, algoID)
	return f.cancelErrs[algoID]
}

func (f *fakeVenue) CancelAllOrders(context.Context, string) error { return nil }

func (f *fakeVenue) PositionRisk(context.Context, string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeVenue) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeVenue) SymbolFilters(context.Context, string) (domain.SymbolFilters, error) {
	return testFilters(), nil
}

func (f *fakeVenue) DepthSnapshot(context.Context, string, int) (domain.DepthSnapshot, error) {
	return domain.DepthSnapshot{}, nil
}

func (f *fakeVenue) SetLeverage(context.Context, string, int) error { return nil }

func (f *fakeVenue) placedRequests() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *fakeVenue) canceledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.canceled))
	copy(out, f.canceled)
	return out
}

func (f *fakeVenue) canceledAlgoIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.canceledAlgo))
	copy(out, f.canceledAlgo)
	return out
}

func testFilters() domain.SymbolFilters {
	return domain.SymbolFilters{Symbol: "BTCUSDT", TickSize: "0.1", StepSize: "0.001"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTrackerConfig() lifecycle.Config {
	return lifecycle.Config{
		PollInterval:     time.Millisecond,
		EntryTimeout:     100 * time.Millisecond,
		MonitorCeiling:   time.Second,
		PlaceAttempts:    2,
		RetryBackoff:     time.Millisecond,
		StopFallbackCode: -4120,
	}
}

func primedMirror() *book.Mirror {
	m := book.NewMirror("BTCUSDT")
	m.ApplySnapshot(
		[]domain.PriceLevel{{Price: 50000, Quantity: 1}, {Price: 49999, Quantity: 2}},
		[]domain.PriceLevel{{Price: 50001, Quantity: 1}, {Price: 50002, Quantity: 2}},
		100,
	)
	return m
}

func newTestCycle(venue *fakeVenue, cfg CycleConfig) (*Cycle, *Stats) {
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.Quantity == 0 {
		cfg.Quantity = 0.002
	}
	if cfg.EntryLevel == 0 {
		cfg.EntryLevel = 1
	}
	cfg.CycleDelay = time.Millisecond
	cfg.BookRetryDelay = time.Millisecond
	stats := NewStats(domain.DirectionLong, cfg.LossFlipThreshold, 50)
	tracker := lifecycle.NewTracker(venue, fastTrackerConfig(), testLogger())
	c := NewCycle(venue, primedMirror(), tracker, testFilters(), stats, nil, nil, cfg, testLogger())
	return c, stats
}

func TestBracketPricesRiskReward(t *testing.T) {
	c := &Cycle{cfg: CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
	}}

	t.Run("long", func(t *testing.T) {
		tp, sl, err := c.bracketPrices(context.Background(), domain.DirectionLong, 50000)
		if err != nil {
			t.Fatalf("bracketPrices: %v", err)
		}
		if !approxEqual(tp, 50100) {
			t.Errorf("tp = %v, want 50100", tp)
		}
		if !approxEqual(sl, 49950) {
			t.Errorf("sl = %v, want 49950", sl)
		}
	})

	t.Run("short", func(t *testing.T) {
		tp, sl, err := c.bracketPrices(context.Background(), domain.DirectionShort, 50000)
		if err != nil {
			t.Fatalf("bracketPrices: %v", err)
		}
		if !approxEqual(tp, 49900) {
			t.Errorf("tp = %v, want 49900", tp)
		}
		if !approxEqual(sl, 50050) {
			t.Errorf("sl = %v, want 50050", sl)
		}
	})
}

func TestCycleWin(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		switch {
		case req.Type == domain.OrderTypeLimit && !req.ReduceOnly:
			// Entry fills at its limit price.
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
		case req.Type == domain.OrderTypeLimit && req.ReduceOnly:
			// Take-profit rests, then fills.
			return []domain.OrderState{
				{Status: domain.OrderStatusNew},
				{Status: domain.OrderStatusFilled, AvgPrice: 50100, ExecutedQty: 0.002},
			}
		default:
			return []domain.OrderState{{Status: domain.OrderStatusNew}}
		}
	}

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	snap := stats.Snapshot()
	if snap.TotalWins != 1 {
		t.Errorf("TotalWins = %d, want 1", snap.TotalWins)
	}
	if snap.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0", snap.ConsecutiveLosses)
	}
	if snap.Direction != domain.DirectionLong {
		t.Errorf("Direction = %s, want LONG", snap.Direction)
	}

	placed := venue.placedRequests()
	if len(placed) != 3 {
		t.Fatalf("placed %d orders, want 3 (entry, tp, sl)", len(placed))
	}
	if placed[1].Price != "50100.0" {
		t.Errorf("tp price = %q, want 50100.0", placed[1].Price)
	}
	if placed[2].StopPrice != "49950.0" {
		t.Errorf("sl stop price = %q, want 49950.0", placed[2].StopPrice)
	}

	// The stop must come down after the win; its cancel is id 3.
	ids := venue.canceledIDs()
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("canceled = %v, want [3]", ids)
	}
}

func TestCycleLossOnTakeProfitCanceled(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		switch {
		case req.Type == domain.OrderTypeLimit && !req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
		case req.Type == domain.OrderTypeLimit && req.ReduceOnly:
			// The stop fired and the venue retired the take-profit.
			return []domain.OrderState{
				{Status: domain.OrderStatusNew},
				{Status: domain.OrderStatusCanceled},
			}
		default:
			return []domain.OrderState{{Status: domain.OrderStatusNew}}
		}
	}
	// A stop cancel failure is the expected race and must be tolerated.
	venue.cancelErrs[3] = errors.New("cancel rejected")

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	snap := stats.Snapshot()
	if snap.TotalLosses != 1 {
		t.Errorf("TotalLosses = %d, want 1", snap.TotalLosses)
	}
	if snap.ConsecutiveLosses != 1 {
		t.Errorf("ConsecutiveLosses = %d, want 1", snap.ConsecutiveLosses)
	}
	if snap.Direction != domain.DirectionLong {
		t.Errorf("Direction = %s, want LONG (no flip below threshold)", snap.Direction)
	}

	// The stop-loss cancel must have been attempted despite failing.
	ids := venue.canceledIDs()
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("canceled = %v, want [3]", ids)
	}

	recent := stats.RecentTrades(1)
	if len(recent) != 1 {
		t.Fatalf("RecentTrades = %d records, want 1", len(recent))
	}
	if recent[0].Result != domain.TradeResultLoss {
		t.Errorf("Result = %s, want LOSS", recent[0].Result)
	}
	if !approxEqual(recent[0].ExitPrice, 49950) {
		t.Errorf("ExitPrice = %v, want stop price 49950", recent[0].ExitPrice)
	}
}

func TestCycleBiasFlipsAtThreshold(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		switch {
		case req.Type == domain.OrderTypeLimit && !req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
		case req.Type == domain.OrderTypeLimit && req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusCanceled}}
		default:
			return []domain.OrderState{{Status: domain.OrderStatusNew}}
		}
	}

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 2,
	})

	for i := 0; i < 2; i++ {
		if err := c.runOnce(context.Background()); err != nil {
			t.Fatalf("runOnce %d: %v", i, err)
		}
	}

	snap := stats.Snapshot()
	if snap.Direction != domain.DirectionShort {
		t.Errorf("Direction = %s, want SHORT after flip", snap.Direction)
	}
	if snap.ConsecutiveLosses != 0 {
		t.Errorf("ConsecutiveLosses = %d, want 0 after flip", snap.ConsecutiveLosses)
	}
	if snap.TotalLosses != 2 {
		t.Errorf("TotalLosses = %d, want 2", snap.TotalLosses)
	}
}

func TestCycleEntryNotFilledReturnsToIdle(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		// The entry rests forever; the tracker times out and cancels.
		return []domain.OrderState{{Status: domain.OrderStatusNew}}
	}

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	snap := stats.Snapshot()
	if snap.Trades != 0 {
		t.Errorf("Trades = %d, want 0 on unfilled entry", snap.Trades)
	}
	if got := venue.placedRequests(); len(got) != 1 {
		t.Errorf("placed %d orders, want 1 (entry only, no bracket)", len(got))
	}
	ids := venue.canceledIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("canceled = %v, want [1] (timed-out entry)", ids)
	}
}

func TestCycleStopFailureCancelsTakeProfitAndForceCloses(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		switch {
		case req.Type == domain.OrderTypeLimit && !req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
		case req.Type == domain.OrderTypeMarket:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 49990, ExecutedQty: 0.002}}
		default:
			return []domain.OrderState{{Status: domain.OrderStatusNew}}
		}
	}
	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})

	// Every STOP_MARKET placement is rejected with an unrecoverable code.
	rejecting := &stopRejectingVenue{fakeVenue: venue}
	c.tracker = lifecycle.NewTracker(rejecting, fastTrackerConfig(), testLogger())
	c.venue = rejecting

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	// Entry (1) and TP (2) were placed through the fake; the stop never
	// got an id. The TP must have been cancelled and a market close sent.
	placed := venue.placedRequests()
	var markets int
	for _, req := range placed {
		if req.Type == domain.OrderTypeMarket {
			markets++
			if !req.ReduceOnly {
				t.Error("force close must be reduce-only")
			}
		}
	}
	if markets != 1 {
		t.Errorf("market orders = %d, want 1 force close", markets)
	}

	ids := venue.canceledIDs()
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("canceled = %v, want [2] (the orphaned take-profit)", ids)
	}

	snap := stats.Snapshot()
	if snap.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1 forced-close record", snap.TotalTimeouts)
	}
}

// stopRejectingVenue rejects every stop placement with an unrecoverable
// margin code while delegating everything else.
type stopRejectingVenue struct {
	*fakeVenue
}

func (v *stopRejectingVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.Type == domain.OrderTypeStopMarket {
		return domain.OrderAck{}, &domain.VenueError{Code: -2019, Message: "margin is insufficient"}
	}
	return v.fakeVenue.PlaceOrder(ctx, req)
}

// stopFallbackVenue pushes every stop placement onto the conditional
// endpoint by rejecting it on the primary one with the fallback code.
type stopFallbackVenue struct {
	*fakeVenue
}

func (v *stopFallbackVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if req.Type == domain.OrderTypeStopMarket {
		return domain.OrderAck{}, &domain.VenueError{Code: -4120, Message: "order type not supported"}
	}
	return v.fakeVenue.PlaceOrder(ctx, req)
}

func TestCycleWinCancelsFallbackStopOnConditionalEndpoint(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		switch {
		case req.Type == domain.OrderTypeLimit && !req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002}}
		case req.Type == domain.OrderTypeLimit && req.ReduceOnly:
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 50100, ExecutedQty: 0.002}}
		default:
			return []domain.OrderState{{Status: domain.OrderStatusNew}}
		}
	}

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})
	fallback := &stopFallbackVenue{fakeVenue: venue}
	c.tracker = lifecycle.NewTracker(fallback, fastTrackerConfig(), testLogger())
	c.venue = fallback

	if err := c.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if snap := stats.Snapshot(); snap.TotalWins != 1 {
		t.Errorf("TotalWins = %d, want 1", snap.TotalWins)
	}

	// The stop rode the conditional endpoint (id 3), so its cancel after
	// the win must go there too, never to the primary endpoint.
	if ids := venue.canceledAlgoIDs(); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("algo cancels = %v, want [3]", ids)
	}
	if ids := venue.canceledIDs(); len(ids) != 0 {
		t.Errorf("primary cancels = %v, want none", ids)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCycleStopCancelsRestingEntry(t *testing.T) {
	venue := newFakeVenue()
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		// The entry rests; the stop arrives while it is still working.
		return []domain.OrderState{{Status: domain.OrderStatusNew}}
	}

	c, _ := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})
	trackerCfg := fastTrackerConfig()
	trackerCfg.EntryTimeout = 5 * time.Second
	c.tracker = lifecycle.NewTracker(venue, trackerCfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return len(venue.placedRequests()) == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The resting entry must not be left working on the venue.
	ids := venue.canceledIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("canceled = %v, want [1] (the resting entry)", ids)
	}
}

func TestCycleStopClosesEntryFilledDuringTeardown(t *testing.T) {
	venue := newFakeVenue()
	venue.fillOnCancel = true
	venue.onPlace = func(id int64, req domain.OrderRequest) []domain.OrderState {
		if req.Type == domain.OrderTypeMarket {
			return []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 49990, ExecutedQty: 0.002}}
		}
		return []domain.OrderState{{Status: domain.OrderStatusNew}}
	}

	c, stats := newTestCycle(venue, CycleConfig{
		UseRiskReward:     true,
		SLDistancePercent: 0.1,
		RiskRewardRatio:   2,
		LossFlipThreshold: 3,
	})
	trackerCfg := fastTrackerConfig()
	trackerCfg.EntryTimeout = 5 * time.Second
	c.tracker = lifecycle.NewTracker(venue, trackerCfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, func() bool { return len(venue.placedRequests()) == 1 })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The entry filled while being torn down; the position it opened must
	// have been closed at market rather than left unmanaged.
	placed := venue.placedRequests()
	last := placed[len(placed)-1]
	if last.Type != domain.OrderTypeMarket || !last.ReduceOnly {
		t.Fatalf("last order = %+v, want reduce-only market close", last)
	}
	if snap := stats.Snapshot(); snap.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1 forced-close record", snap.TotalTimeouts)
	}
}
