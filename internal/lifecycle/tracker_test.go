package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// fakeVenue scripts venue responses for tracker tests.
type fakeVenue struct {
	mu sync.Mutex

	// queryStatuses is consumed front to back; the last entry repeats.
	queryStatuses []domain.OrderState
	queryErrs     []error

	placeErr     error
	placeAlgoErr error
	placeCalls   int
	algoCalls    int

	cancelErr       error
	cancelCalls     int
	cancelAlgoCalls int
	queryAlgoCalls  int

	// fillOnCancel simulates a fill racing the cancel: queries report
	// FILLED only after the cancel is issued.
	fillOnCancel bool
}

func (f *fakeVenue) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeVenue) SymbolFilters(context.Context, string) (domain.SymbolFilters, error) {
	return domain.SymbolFilters{TickSize: "0.1", StepSize: "0.001"}, nil
}

func (f *fakeVenue) DepthSnapshot(context.Context, string, int) (domain.DepthSnapshot, error) {
	return domain.DepthSnapshot{}, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return domain.OrderAck{}, f.placeErr
	}
	return domain.OrderAck{OrderID: 101, Status: domain.OrderStatusNew}, nil
}

func (f *fakeVenue) PlaceAlgoOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.algoCalls++
	if f.placeAlgoErr != nil {
		return domain.OrderAck{}, f.placeAlgoErr
	}
	return domain.OrderAck{AlgoOrderID: 202, Status: domain.OrderStatusNew}, nil
}

func (f *fakeVenue) QueryOrder(context.Context, string, int64) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		if err != nil {
			return domain.OrderState{}, err
		}
	}
	if len(f.queryStatuses) == 0 {
		return domain.OrderState{Status: domain.OrderStatusNew}, nil
	}
	st := f.queryStatuses[0]
	if len(f.queryStatuses) > 1 {
		f.queryStatuses = f.queryStatuses[1:]
	}
	return st, nil
}

func (f *fakeVenue) QueryAlgoOrder(ctx context.Context, symbol string, algoID int64) (domain.OrderState, error) {
	f.mu.Lock()
	f.queryAlgoCalls++
	f.mu.Unlock()
	return f.QueryOrder(ctx, symbol, algoID)
}

func (f *fakeVenue) CancelOrder(context.Context, string, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if f.fillOnCancel {
		f.queryStatuses = []domain.OrderState{{Status: domain.OrderStatusFilled, AvgPrice: 49999, ExecutedQty: 0.002}}
	}
	return f.cancelErr
}

func (f *fakeVenue) CancelAlgoOrder(context.Context, string, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAlgoCalls++
	return f.cancelErr
}

func (f *fakeVenue) CancelAllOrders(context.Context, string) error { return nil }

func (f *fakeVenue) PositionRisk(context.Context, string) (domain.Position, error) {
	return domain.Position{}, nil
}

func (f *fakeVenue) SetLeverage(context.Context, string, int) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		PollInterval:     time.Millisecond,
		EntryTimeout:     50 * time.Millisecond,
		MonitorCeiling:   50 * time.Millisecond,
		PlaceAttempts:    3,
		RetryBackoff:     time.Millisecond,
		StopFallbackCode: -4120,
	}
}

func entryOrder() domain.TrackedOrder {
	return domain.TrackedOrder{OrderID: 101, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit}
}

func TestAwaitEntryFills(t *testing.T) {
	venue := &fakeVenue{
		queryStatuses: []domain.OrderState{
			{Status: domain.OrderStatusNew},
			{Status: domain.OrderStatusPartiallyFilled, ExecutedQty: 0.001},
			{Status: domain.OrderStatusFilled, AvgPrice: 50000.5, ExecutedQty: 0.002},
		},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	out, err := tr.AwaitEntry(context.Background(), entryOrder())
	if err != nil {
		t.Fatalf("AwaitEntry: %v", err)
	}
	if !out.Filled {
		t.Fatal("expected fill")
	}
	if out.AvgPrice != 50000.5 || out.ExecutedQty != 0.002 {
		t.Errorf("fill capture = %v/%v, want 50000.5/0.002", out.AvgPrice, out.ExecutedQty)
	}
}

func TestAwaitEntryCanceledMeansNoPosition(t *testing.T) {
	venue := &fakeVenue{
		queryStatuses: []domain.OrderState{{Status: domain.OrderStatusCanceled}},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	out, err := tr.AwaitEntry(context.Background(), entryOrder())
	if err != nil {
		t.Fatalf("AwaitEntry: %v", err)
	}
	if out.Filled {
		t.Fatal("canceled entry must not report a fill")
	}
	if out.Status != domain.OrderStatusCanceled {
		t.Errorf("status = %s, want CANCELED", out.Status)
	}
}

func TestAwaitEntryTimeoutCancels(t *testing.T) {
	venue := &fakeVenue{} // forever NEW
	tr := NewTracker(venue, fastConfig(), testLogger())

	out, err := tr.AwaitEntry(context.Background(), entryOrder())
	if err != nil {
		t.Fatalf("AwaitEntry: %v", err)
	}
	if out.Filled {
		t.Fatal("timed-out entry must not report a fill")
	}
	if venue.cancelCalls == 0 {
		t.Error("timeout must issue a cancel")
	}
}

func TestAwaitEntryHonorsLateFillAfterCancel(t *testing.T) {
	// The venue reports NEW until after the cancel is issued, then FILLED:
	// the fill raced the cancel and must be honored.
	venue := &fakeVenue{fillOnCancel: true}
	tr := NewTracker(venue, fastConfig(), testLogger())

	out, err := tr.AwaitEntry(context.Background(), entryOrder())
	if err != nil {
		t.Fatalf("AwaitEntry: %v", err)
	}
	if !out.Filled {
		t.Fatal("late fill after cancel must be honored as a fill")
	}
	if out.AvgPrice != 49999 {
		t.Errorf("avg price = %v, want 49999", out.AvgPrice)
	}
}

func TestAwaitEntryToleratesTransientQueryErrors(t *testing.T) {
	venue := &fakeVenue{
		queryErrs: []error{errors.New("timeout"), errors.New("timeout")},
		queryStatuses: []domain.OrderState{
			{Status: domain.OrderStatusFilled, AvgPrice: 50000, ExecutedQty: 0.002},
		},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	out, err := tr.AwaitEntry(context.Background(), entryOrder())
	if err != nil {
		t.Fatalf("AwaitEntry: %v", err)
	}
	if !out.Filled {
		t.Fatal("fill after transient query errors must be observed")
	}
}

func TestAwaitTakeProfit(t *testing.T) {
	t.Run("filled is a win", func(t *testing.T) {
		venue := &fakeVenue{
			queryStatuses: []domain.OrderState{
				{Status: domain.OrderStatusNew},
				{Status: domain.OrderStatusFilled},
			},
		}
		tr := NewTracker(venue, fastConfig(), testLogger())
		out, err := tr.AwaitTakeProfit(context.Background(), entryOrder())
		if err != nil || out != ExitFilled {
			t.Fatalf("AwaitTakeProfit = %v, %v; want ExitFilled", out, err)
		}
	})

	t.Run("canceled means the stop fired", func(t *testing.T) {
		venue := &fakeVenue{
			queryStatuses: []domain.OrderState{{Status: domain.OrderStatusCanceled}},
		}
		tr := NewTracker(venue, fastConfig(), testLogger())
		out, err := tr.AwaitTakeProfit(context.Background(), entryOrder())
		if err != nil || out != ExitCanceled {
			t.Fatalf("AwaitTakeProfit = %v, %v; want ExitCanceled", out, err)
		}
	})

	t.Run("ceiling forces manual close", func(t *testing.T) {
		venue := &fakeVenue{} // forever NEW
		tr := NewTracker(venue, fastConfig(), testLogger())
		_, err := tr.AwaitTakeProfit(context.Background(), entryOrder())
		if !errors.Is(err, domain.ErrMonitorTimedOut) {
			t.Fatalf("err = %v, want ErrMonitorTimedOut", err)
		}
	})
}

func stopRequest() domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       domain.SideSell,
		Type:       domain.OrderTypeStopMarket,
		StopPrice:  "49950.0",
		Quantity:   "0.002",
		ReduceOnly: true,
	}
}

func TestPlaceStopPrimaryPath(t *testing.T) {
	venue := &fakeVenue{}
	tr := NewTracker(venue, fastConfig(), testLogger())

	ord, err := tr.PlaceStop(context.Background(), stopRequest())
	if err != nil {
		t.Fatalf("PlaceStop: %v", err)
	}
	if ord.ID() != 101 {
		t.Errorf("order id = %d, want 101", ord.ID())
	}
	if venue.algoCalls != 0 {
		t.Error("primary path must not touch the conditional endpoint")
	}
}

func TestPlaceStopFallsBackOnExactCode(t *testing.T) {
	venue := &fakeVenue{
		placeErr: &domain.VenueError{Code: -4120, Message: "order type not supported"},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	ord, err := tr.PlaceStop(context.Background(), stopRequest())
	if err != nil {
		t.Fatalf("PlaceStop: %v", err)
	}
	if ord.AlgoOrderID != 202 {
		t.Errorf("expected conditional-endpoint order, got %+v", ord)
	}
	if venue.placeCalls != 1 || venue.algoCalls != 1 {
		t.Errorf("calls = %d primary / %d algo, want 1/1", venue.placeCalls, venue.algoCalls)
	}
}

func TestPlaceStopDoesNotFallBackOnOtherCodes(t *testing.T) {
	venue := &fakeVenue{
		placeErr: &domain.VenueError{Code: -2019, Message: "margin is insufficient"},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	_, err := tr.PlaceStop(context.Background(), stopRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if venue.algoCalls != 0 {
		t.Error("fallback must be gated on the exact code, not any rejection")
	}
	if venue.placeCalls != 1 {
		t.Errorf("unrecoverable rejection must not be retried, got %d calls", venue.placeCalls)
	}
}

func TestPlaceStopRetriesTransientErrors(t *testing.T) {
	venue := &fakeVenue{placeErr: errors.New("connection reset")}
	tr := NewTracker(venue, fastConfig(), testLogger())

	_, err := tr.PlaceStop(context.Background(), stopRequest())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if venue.placeCalls != 3 {
		t.Errorf("placeCalls = %d, want 3", venue.placeCalls)
	}
}

func TestFallbackStopCancelsThroughConditionalEndpoint(t *testing.T) {
	// A stop placed through the fallback carries an algo id; its cancel
	// must go to the conditional endpoint, where that id is valid.
	venue := &fakeVenue{
		placeErr: &domain.VenueError{Code: -4120, Message: "order type not supported"},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	ord, err := tr.PlaceStop(context.Background(), stopRequest())
	if err != nil {
		t.Fatalf("PlaceStop: %v", err)
	}
	if !ord.Algo() {
		t.Fatalf("expected conditional-endpoint order, got %+v", ord)
	}

	if err := tr.CancelQuiet(context.Background(), ord); err != nil {
		t.Fatalf("CancelQuiet: %v", err)
	}
	if venue.cancelAlgoCalls != 1 {
		t.Errorf("cancelAlgoCalls = %d, want 1", venue.cancelAlgoCalls)
	}
	if venue.cancelCalls != 0 {
		t.Error("algo order cancel must not touch the primary endpoint")
	}
}

func TestAwaitTakeProfitQueriesConditionalEndpointForAlgoOrders(t *testing.T) {
	venue := &fakeVenue{
		queryStatuses: []domain.OrderState{{Status: domain.OrderStatusFilled}},
	}
	tr := NewTracker(venue, fastConfig(), testLogger())

	algoOrd := domain.TrackedOrder{AlgoOrderID: 202, Symbol: "BTCUSDT", Type: domain.OrderTypeStopMarket}
	out, err := tr.AwaitTakeProfit(context.Background(), algoOrd)
	if err != nil || out != ExitFilled {
		t.Fatalf("AwaitTakeProfit = %v, %v; want ExitFilled", out, err)
	}
	if venue.queryAlgoCalls == 0 {
		t.Error("algo order status must be queried on the conditional endpoint")
	}
}

func TestCancelQuietSwallowsUnknownOrder(t *testing.T) {
	venue := &fakeVenue{cancelErr: &domain.VenueError{Code: -2011, Message: "unknown order sent"}}
	tr := NewTracker(venue, fastConfig(), testLogger())

	if err := tr.CancelQuiet(context.Background(), entryOrder()); err != nil {
		t.Errorf("CancelQuiet unknown order = %v, want nil", err)
	}

	venue.cancelErr = errors.New("network down")
	if err := tr.CancelQuiet(context.Background(), entryOrder()); err == nil {
		t.Error("real cancel failures must surface")
	}
}
