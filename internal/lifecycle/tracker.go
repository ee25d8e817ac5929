// Package lifecycle tracks a single logical order (entry, take-profit, or
// stop) through its venue lifecycle with polling-based reconciliation. The
// tracker never assumes an order is in the state it was last told it was in:
// every decision re-queries the venue, and a timed-out or failed call leaves
// the outcome unknown rather than assumed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Config holds the tracker's polling and retry parameters.
type Config struct {
	// PollInterval is the fixed sleep between status queries.
	PollInterval time.Duration

	// EntryTimeout bounds how long an unfilled entry order is left resting
	// before it is cancelled.
	EntryTimeout time.Duration

	// MonitorCeiling bounds bracket monitoring; when it expires with
	// neither bracket order resolved the caller must force-close.
	MonitorCeiling time.Duration

	// PlaceAttempts bounds placement retries for the stop order.
	PlaceAttempts int

	// RetryBackoff is the fixed delay between placement attempts.
	RetryBackoff time.Duration

	// StopFallbackCode is the venue error code, and only that code, that
	// routes stop placement to the conditional-order endpoint.
	StopFallbackCode int
}

// DefaultConfig returns the standard tracker parameters.
func DefaultConfig() Config {
	return Config{
		PollInterval:     time.Second,
		EntryTimeout:     60 * time.Second,
		MonitorCeiling:   4 * time.Hour,
		PlaceAttempts:    3,
		RetryBackoff:     2 * time.Second,
		StopFallbackCode: -4120,
	}
}

// EntryOutcome is the result of awaiting an entry order.
type EntryOutcome struct {
	Filled      bool
	AvgPrice    float64
	ExecutedQty float64
	Status      domain.OrderStatus
}

// ExitOutcome classifies how a monitored take-profit resolved.
type ExitOutcome int

const (
	// ExitFilled means the take-profit filled: the trade is a win.
	ExitFilled ExitOutcome = iota
	// ExitCanceled means the take-profit was cancelled or expired on the
	// venue side, interpreted as the paired stop having triggered and
	// closed the position: the trade is a loss.
	ExitCanceled
)

// Tracker drives one logical order at a time through its lifecycle. It is
// reused across cycles; it holds no per-order state between calls.
type Tracker struct {
	venue  domain.Venue
	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a tracker over the venue.
func NewTracker(venue domain.Venue, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PlaceAttempts < 1 {
		cfg.PlaceAttempts = 1
	}
	return &Tracker{
		venue:  venue,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "order_tracker")),
	}
}

// AwaitEntry polls the entry order until it reaches a terminal status or the
// entry timeout expires. On timeout a cancel is issued and the order is
// re-queried once more: a fill that raced the cancel on the venue side is
// still honored as a fill, never silently dropped.
func (t *Tracker) AwaitEntry(ctx context.Context, ord domain.TrackedOrder) (EntryOutcome, error) {
	deadline := time.Now().Add(t.cfg.EntryTimeout)

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, t.cfg.PollInterval); err != nil {
			return EntryOutcome{}, err
		}

		state, err := t.queryState(ctx, ord)
		if err != nil {
			if ctx.Err() != nil {
				return EntryOutcome{}, ctx.Err()
			}
			// Outcome unknown: keep polling until the deadline.
			t.logger.Warn("entry status query failed",
				slog.Int64("order_id", ord.ID()),
				slog.String("symbol", ord.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch state.Status {
		case domain.OrderStatusFilled:
			return EntryOutcome{
				Filled:      true,
				AvgPrice:    state.AvgPrice,
				ExecutedQty: state.ExecutedQty,
				Status:      state.Status,
			}, nil
		case domain.OrderStatusCanceled, domain.OrderStatusExpired, domain.OrderStatusRejected:
			return EntryOutcome{Status: state.Status}, nil
		}
	}

	// Timed out with no terminal status observed: cancel, then reconcile.
	if err := t.CancelQuiet(ctx, ord); err != nil {
		t.logger.Warn("entry timeout cancel failed",
			slog.Int64("order_id", ord.ID()),
			slog.String("error", err.Error()),
		)
	}

	state, err := t.queryState(ctx, ord)
	if err != nil {
		if ctx.Err() != nil {
			return EntryOutcome{}, ctx.Err()
		}
		return EntryOutcome{}, fmt.Errorf("lifecycle: entry %d outcome after cancel: %w", ord.ID(), domain.ErrOutcomeUnknown)
	}
	if state.Status == domain.OrderStatusFilled {
		// The venue filled the order before the cancel landed.
		t.logger.Info("entry filled during cancel race",
			slog.Int64("order_id", ord.ID()),
			slog.Float64("avg_price", state.AvgPrice),
		)
		return EntryOutcome{
			Filled:      true,
			AvgPrice:    state.AvgPrice,
			ExecutedQty: state.ExecutedQty,
			Status:      state.Status,
		}, nil
	}
	return EntryOutcome{Status: state.Status}, nil
}

// AwaitTakeProfit polls the resting take-profit order until it fills (win),
// is cancelled or expires on the venue side (the paired stop fired: loss), or
// the monitoring ceiling is reached, in which case ErrMonitorTimedOut is
// returned and the caller must force-close.
func (t *Tracker) AwaitTakeProfit(ctx context.Context, ord domain.TrackedOrder) (ExitOutcome, error) {
	deadline := time.Now().Add(t.cfg.MonitorCeiling)

	for time.Now().Before(deadline) {
		if err := sleepCtx(ctx, t.cfg.PollInterval); err != nil {
			return 0, err
		}

		state, err := t.queryState(ctx, ord)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			t.logger.Warn("take-profit status query failed",
				slog.Int64("order_id", ord.ID()),
				slog.String("symbol", ord.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch state.Status {
		case domain.OrderStatusFilled:
			return ExitFilled, nil
		case domain.OrderStatusCanceled, domain.OrderStatusExpired:
			return ExitCanceled, nil
		}
	}

	return 0, fmt.Errorf("lifecycle: take-profit %d: %w", ord.ID(), domain.ErrMonitorTimedOut)
}

// PlaceStop places a stop-trigger order, falling back to the conditional
// order endpoint when, and only when, the primary endpoint rejects with the
// configured fallback code. Attempts are bounded with a fixed backoff. On
// total failure the caller must cancel any already-placed take-profit to
// avoid an unprotected position.
func (t *Tracker) PlaceStop(ctx context.Context, req domain.OrderRequest) (domain.TrackedOrder, error) {
	var lastErr error
	useAlgo := false

	for attempt := 1; attempt <= t.cfg.PlaceAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, t.cfg.RetryBackoff); err != nil {
				return domain.TrackedOrder{}, err
			}
		}

		var (
			ack domain.OrderAck
			err error
		)
		if useAlgo {
			ack, err = t.venue.PlaceAlgoOrder(ctx, req)
		} else {
			ack, err = t.venue.PlaceOrder(ctx, req)
		}
		if err == nil {
			return tracked(req, ack), nil
		}
		lastErr = err

		if !useAlgo && domain.VenueCode(err) == t.cfg.StopFallbackCode {
			// Narrow, code-gated fallback; the conditional endpoint has
			// equivalent trigger semantics.
			t.logger.Warn("stop order type rejected, switching to conditional endpoint",
				slog.String("symbol", req.Symbol),
				slog.Int("code", t.cfg.StopFallbackCode),
			)
			useAlgo = true
			continue
		}
		if code := domain.VenueCode(err); code != 0 && code != t.cfg.StopFallbackCode {
			// A concrete rejection other than the fallback code will not
			// heal with a retry.
			return domain.TrackedOrder{}, fmt.Errorf("lifecycle: place stop: %w", err)
		}

		t.logger.Warn("stop placement attempt failed",
			slog.Int("attempt", attempt),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
	}

	return domain.TrackedOrder{}, fmt.Errorf("lifecycle: place stop after %d attempts: %w", t.cfg.PlaceAttempts, lastErr)
}

// PlaceLimit places a limit order through the primary endpoint and returns
// its tracked form.
func (t *Tracker) PlaceLimit(ctx context.Context, req domain.OrderRequest) (domain.TrackedOrder, error) {
	ack, err := t.venue.PlaceOrder(ctx, req)
	if err != nil {
		return domain.TrackedOrder{}, fmt.Errorf("lifecycle: place limit: %w", err)
	}
	return tracked(req, ack), nil
}

// CancelQuiet cancels ord, treating "unknown order" as success: the venue has
// already retired the id, which is the desired end state. Orders placed
// through the conditional endpoint are cancelled there; their ids do not
// exist on the primary endpoint.
func (t *Tracker) CancelQuiet(ctx context.Context, ord domain.TrackedOrder) error {
	var err error
	if ord.Algo() {
		err = t.venue.CancelAlgoOrder(ctx, ord.Symbol, ord.ID())
	} else {
		err = t.venue.CancelOrder(ctx, ord.Symbol, ord.ID())
	}
	if err == nil {
		return nil
	}
	var ve *domain.VenueError
	if errors.As(err, &ve) && ve.Code == unknownOrderCode {
		return nil
	}
	return err
}

// queryState routes a status query to the endpoint that owns the order's id.
func (t *Tracker) queryState(ctx context.Context, ord domain.TrackedOrder) (domain.OrderState, error) {
	if ord.Algo() {
		return t.venue.QueryAlgoOrder(ctx, ord.Symbol, ord.ID())
	}
	return t.venue.QueryOrder(ctx, ord.Symbol, ord.ID())
}

// unknownOrderCode is the venue's "unknown order sent" rejection, returned
// for ids that already reached a terminal state.
const unknownOrderCode = -2011

func tracked(req domain.OrderRequest, ack domain.OrderAck) domain.TrackedOrder {
	status := ack.Status
	if status == "" {
		status = domain.OrderStatusNew
	}
	price, _ := strconv.ParseFloat(req.Price, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(req.StopPrice, 64)
	}
	qty, _ := strconv.ParseFloat(req.Quantity, 64)
	return domain.TrackedOrder{
		OrderID:     ack.OrderID,
		AlgoOrderID: ack.AlgoOrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       price,
		Quantity:    qty,
		Status:      status,
		ReduceOnly:  req.ReduceOnly,
		PlacedAt:    time.Now(),
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
