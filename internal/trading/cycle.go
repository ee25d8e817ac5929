package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/lifecycle"
	"github.com/nsavelyev/scalpbot/internal/precision"
)

// CycleState labels the orchestrator's position in the trade cycle.
type CycleState string

const (
	StateIdle          CycleState = "IDLE"
	StateEntryPlaced   CycleState = "ENTRY_PLACED"
	StateEntryFilled   CycleState = "ENTRY_FILLED"
	StateBracketPlaced CycleState = "BRACKET_PLACED"
	StateResolved      CycleState = "RESOLVED"
	StateStopped       CycleState = "STOPPED"
)

// CycleConfig parameterizes one scalping strategy instance.
type CycleConfig struct {
	Symbol   string
	Quantity float64

	// EntryLevel, TakeProfitLevel and StopLossLevel are 1-indexed book
	// depth ranks used when bracket prices come from the book.
	EntryLevel      int
	TakeProfitLevel int
	StopLossLevel   int

	// UseRiskReward switches the bracket from book levels to a fixed
	// risk/reward ratio off the realized entry price.
	UseRiskReward bool

	// SLDistancePercent is in percent units: 0.1 means the stop sits 0.1%
	// away from entry.
	SLDistancePercent float64
	RiskRewardRatio   float64

	LossFlipThreshold int

	// CycleDelay is the pause between cycles and after a failed cycle.
	CycleDelay time.Duration

	// BookRetries bounds re-reads of the mirror when no valid price level
	// is available at the moment of query.
	BookRetries    int
	BookRetryDelay time.Duration

	Fees FeeRates
}

// Cycle is the scalping orchestrator. It sequences entry, bracket placement
// and outcome resolution, one trade at a time, flipping the directional bias
// after a run of losses. It is the sole writer of its order bookkeeping.
type Cycle struct {
	venue   domain.Venue
	mirror  *book.Mirror
	tracker *lifecycle.Tracker
	filters domain.SymbolFilters
	stats   *Stats
	store   domain.TradeStore      // optional
	pub     domain.EventPublisher  // optional
	cfg     CycleConfig
	logger  *slog.Logger

	running atomic.Bool

	mu    sync.Mutex
	state CycleState
	open  *domain.TradeRecord

	// pending is the resting entry order whose fate is not yet known. It is
	// the only live order that is not reduce-only, so it is the one a stop
	// mid-cycle must not strand on the venue.
	pending *domain.TrackedOrder
}

// NewCycle wires a cycle orchestrator. store and pub may be nil.
func NewCycle(
	venue domain.Venue,
	mirror *book.Mirror,
	tracker *lifecycle.Tracker,
	filters domain.SymbolFilters,
	stats *Stats,
	store domain.TradeStore,
	pub domain.EventPublisher,
	cfg CycleConfig,
	logger *slog.Logger,
) *Cycle {
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = 2 * time.Second
	}
	if cfg.BookRetries < 1 {
		cfg.BookRetries = 3
	}
	if cfg.BookRetryDelay <= 0 {
		cfg.BookRetryDelay = 500 * time.Millisecond
	}
	return &Cycle{
		venue:   venue,
		mirror:  mirror,
		tracker: tracker,
		filters: filters,
		stats:   stats,
		store:   store,
		pub:     pub,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "trade_cycle"), slog.String("symbol", cfg.Symbol)),
		state:   StateIdle,
	}
}

// State returns the current cycle state.
func (c *Cycle) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OpenTrade returns a copy of the in-flight trade record, if any.
func (c *Cycle) OpenTrade() (domain.TradeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return domain.TradeRecord{}, false
	}
	return *c.open, true
}

// Stats exposes the running counters for the status surface.
func (c *Cycle) Stats() *Stats {
	return c.stats
}

// Run drives trade cycles until ctx is cancelled. Cancellation is honored at
// the Idle boundary between cycles; an in-flight cycle completes or resolves
// its orders before Run returns. Only one Run may be active at a time.
func (c *Cycle) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.setState(StateStopped)
	defer c.shutdown(ctx)

	c.logger.Info("trade cycle loop starting",
		slog.String("direction", string(c.stats.Direction())),
		slog.Float64("quantity", c.cfg.Quantity),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("stop observed at idle boundary")
			return nil
		}

		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("cycle failed", slog.String("error", err.Error()))
			c.publish(ctx, domain.EventError, map[string]string{"error": err.Error()})
		}

		c.setState(StateIdle)
		if err := sleepCtx(ctx, c.cfg.CycleDelay); err != nil {
			return nil
		}
	}
}

// runOnce executes a single Idle to Resolved pass.
func (c *Cycle) runOnce(ctx context.Context) error {
	dir := c.stats.Direction()
	cycleID := uuid.NewString()

	c.setState(StateIdle)
	c.publish(ctx, domain.EventCycleStarted, map[string]string{
		"cycle_id":  cycleID,
		"direction": string(dir),
	})

	entryReq, err := c.buildEntry(ctx, dir)
	if err != nil {
		return fmt.Errorf("trading: build entry: %w", err)
	}

	entry, err := c.tracker.PlaceLimit(ctx, entryReq)
	if err != nil {
		return fmt.Errorf("trading: place entry: %w", err)
	}
	c.setState(StateEntryPlaced)
	c.setPending(&entry)
	c.publish(ctx, domain.EventEntryPlaced, map[string]string{
		"cycle_id": cycleID,
		"order_id": fmt.Sprint(entry.ID()),
		"price":    entryReq.Price,
		"side":     string(entryReq.Side),
	})

	outcome, err := c.tracker.AwaitEntry(ctx, entry)
	if err != nil {
		if errors.Is(err, domain.ErrOutcomeUnknown) {
			// The cancel-then-query reconciliation failed; check the
			// position before walking away from a possible fill.
			c.setPending(nil)
			return c.reconcileUnknownEntry(ctx, cycleID, dir, entry)
		}
		// Cancellation mid-await leaves the entry's fate to shutdown.
		return fmt.Errorf("trading: await entry: %w", err)
	}
	c.setPending(nil)
	if !outcome.Filled {
		c.publish(ctx, domain.EventEntryNotFilled, map[string]string{
			"cycle_id": cycleID,
			"status":   string(outcome.Status),
		})
		return nil
	}

	return c.manageFilledEntry(ctx, cycleID, dir, outcome.AvgPrice, outcome.ExecutedQty)
}

// manageFilledEntry places the bracket and monitors it to resolution.
func (c *Cycle) manageFilledEntry(ctx context.Context, cycleID string, dir domain.Direction, entryPrice, qty float64) error {
	c.setState(StateEntryFilled)
	rec := &domain.TradeRecord{
		ID:         cycleID,
		Symbol:     c.cfg.Symbol,
		Direction:  dir,
		EntryTime:  time.Now(),
		EntryPrice: entryPrice,
		Quantity:   qty,
	}
	c.setOpen(rec)
	defer c.setOpen(nil)

	c.publish(ctx, domain.EventEntryFilled, map[string]string{
		"cycle_id":  cycleID,
		"avg_price": fmt.Sprint(entryPrice),
		"quantity":  fmt.Sprint(qty),
	})

	tp, sl, err := c.bracketPrices(ctx, dir, entryPrice)
	if err != nil {
		// Position is open with no valid bracket; get flat immediately.
		c.logger.Error("bracket computation failed, closing position",
			slog.String("error", err.Error()),
		)
		return c.forceCloseAndRecord(ctx, rec, domain.TradeResultTimeout)
	}
	rec.TakeProfit = tp
	rec.StopLoss = sl

	tpOrder, slOrder, err := c.placeBracket(ctx, dir, qty, tp, sl)
	if err != nil {
		c.logger.Error("bracket placement failed, closing position",
			slog.String("error", err.Error()),
		)
		return c.forceCloseAndRecord(ctx, rec, domain.TradeResultTimeout)
	}
	c.setState(StateBracketPlaced)
	c.publish(ctx, domain.EventBracketPlaced, map[string]string{
		"cycle_id":    cycleID,
		"tp_order_id": fmt.Sprint(tpOrder.ID()),
		"sl_order_id": fmt.Sprint(slOrder.ID()),
		"tp":          fmt.Sprint(tp),
		"sl":          fmt.Sprint(sl),
	})

	exit, err := c.tracker.AwaitTakeProfit(ctx, tpOrder)
	if err != nil {
		if errors.Is(err, domain.ErrMonitorTimedOut) {
			// Neither bracket order resolved inside the ceiling.
			c.cancelBest(ctx, tpOrder, "take-profit")
			c.cancelBest(ctx, slOrder, "stop-loss")
			return c.forceCloseAndRecord(ctx, rec, domain.TradeResultTimeout)
		}
		return fmt.Errorf("trading: await take-profit: %w", err)
	}

	switch exit {
	case lifecycle.ExitFilled:
		// Win. The stop auto-invalidates once the position closes, so a
		// cancel failure here is the expected race.
		c.cancelBest(ctx, slOrder, "stop-loss")
		c.finalize(ctx, rec, domain.TradeResultWin, tp, c.cfg.Fees.Maker)
	case lifecycle.ExitCanceled:
		// The venue retired the take-profit, which means the paired stop
		// fired and closed the position at a loss.
		c.cancelBest(ctx, slOrder, "stop-loss")
		c.finalize(ctx, rec, domain.TradeResultLoss, sl, c.cfg.Fees.Taker)
	}
	c.setState(StateResolved)
	return nil
}

// buildEntry reads the mirror, with bounded retries, and formats a passive
// entry order for dir.
func (c *Cycle) buildEntry(ctx context.Context, dir domain.Direction) (domain.OrderRequest, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.BookRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.cfg.BookRetryDelay); err != nil {
				return domain.OrderRequest{}, err
			}
		}
		price, err := c.mirror.EntryPrice(dir, c.cfg.EntryLevel)
		if err != nil {
			lastErr = err
			continue
		}
		priceStr, err := precision.FormatPrice(price, c.filters.TickSize)
		if err != nil {
			return domain.OrderRequest{}, err
		}
		qtyStr, err := precision.FormatQuantity(c.cfg.Quantity, c.filters.StepSize)
		if err != nil {
			return domain.OrderRequest{}, err
		}
		return domain.OrderRequest{
			Symbol:      c.cfg.Symbol,
			Side:        dir.EntrySide(),
			Type:        domain.OrderTypeLimit,
			Price:       priceStr,
			Quantity:    qtyStr,
			TimeInForce: domain.TimeInForceGTC,
		}, nil
	}
	return domain.OrderRequest{}, lastErr
}

// bracketPrices computes and validates the TP/SL pair, from book levels or
// the fixed risk/reward ratio off the realized entry price.
func (c *Cycle) bracketPrices(ctx context.Context, dir domain.Direction, entryPrice float64) (tp, sl float64, err error) {
	if c.cfg.UseRiskReward {
		slDistance := entryPrice * c.cfg.SLDistancePercent / 100
		tpDistance := slDistance * c.cfg.RiskRewardRatio
		if dir == domain.DirectionLong {
			tp = entryPrice + tpDistance
			sl = entryPrice - slDistance
		} else {
			tp = entryPrice - tpDistance
			sl = entryPrice + slDistance
		}
		if err := book.ValidateBracket(dir, entryPrice, tp, sl); err != nil {
			return 0, 0, err
		}
		return tp, sl, nil
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.BookRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.cfg.BookRetryDelay); err != nil {
				return 0, 0, err
			}
		}
		tp, err = c.mirror.TakeProfitPrice(dir, c.cfg.TakeProfitLevel)
		if err != nil {
			lastErr = err
			continue
		}
		sl, err = c.mirror.StopLossPrice(dir, c.cfg.StopLossLevel)
		if err != nil {
			lastErr = err
			continue
		}
		if err := book.ValidateBracket(dir, entryPrice, tp, sl); err != nil {
			// The book moved through the entry; re-read.
			lastErr = err
			continue
		}
		return tp, sl, nil
	}
	return 0, 0, lastErr
}

// placeBracket places the take-profit then the stop. If the stop fails after
// the take-profit succeeded the take-profit is cancelled so the position is
// never left with one-sided protection, and the error is returned for the
// caller to force-close.
func (c *Cycle) placeBracket(ctx context.Context, dir domain.Direction, qty, tp, sl float64) (tpOrder, slOrder domain.TrackedOrder, err error) {
	exitSide := dir.ExitSide()
	qtyStr, err := precision.FormatQuantity(qty, c.filters.StepSize)
	if err != nil {
		return tpOrder, slOrder, err
	}
	tpStr, err := precision.FormatPrice(tp, c.filters.TickSize)
	if err != nil {
		return tpOrder, slOrder, err
	}
	slStr, err := precision.FormatPrice(sl, c.filters.TickSize)
	if err != nil {
		return tpOrder, slOrder, err
	}

	tpOrder, err = c.tracker.PlaceLimit(ctx, domain.OrderRequest{
		Symbol:      c.cfg.Symbol,
		Side:        exitSide,
		Type:        domain.OrderTypeLimit,
		Price:       tpStr,
		Quantity:    qtyStr,
		TimeInForce: domain.TimeInForceGTC,
		ReduceOnly:  true,
	})
	if err != nil {
		return tpOrder, slOrder, fmt.Errorf("trading: place take-profit: %w", err)
	}

	slOrder, err = c.tracker.PlaceStop(ctx, domain.OrderRequest{
		Symbol:     c.cfg.Symbol,
		Side:       exitSide,
		Type:       domain.OrderTypeStopMarket,
		StopPrice:  slStr,
		Quantity:   qtyStr,
		ReduceOnly: true,
	})
	if err != nil {
		c.cancelBest(ctx, tpOrder, "take-profit")
		return tpOrder, slOrder, fmt.Errorf("trading: place stop: %w", err)
	}
	return tpOrder, slOrder, nil
}

// reconcileUnknownEntry resolves an entry whose post-cancel status query
// failed: the venue's position is ground truth. A discovered position is
// managed as a fill; a flat account means the cancel landed.
func (c *Cycle) reconcileUnknownEntry(ctx context.Context, cycleID string, dir domain.Direction, entry domain.TrackedOrder) error {
	pos, err := c.venue.PositionRisk(ctx, c.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("trading: entry %d outcome unknown and position query failed: %w", entry.ID(), err)
	}
	if pos.PositionAmt == 0 {
		c.publish(ctx, domain.EventEntryNotFilled, map[string]string{
			"cycle_id": cycleID,
			"status":   "reconciled_flat",
		})
		return nil
	}
	qty := pos.PositionAmt
	if qty < 0 {
		qty = -qty
	}
	c.logger.Warn("entry outcome recovered from position",
		slog.Int64("order_id", entry.ID()),
		slog.Float64("position", pos.PositionAmt),
	)
	return c.manageFilledEntry(ctx, cycleID, dir, pos.EntryPrice, qty)
}

// forceCloseAndRecord market-closes the open position and finalizes rec with
// the given result, using the last trade price the venue reports.
func (c *Cycle) forceCloseAndRecord(ctx context.Context, rec *domain.TradeRecord, result domain.TradeResult) error {
	qtyStr, err := precision.FormatQuantity(rec.Quantity, c.filters.StepSize)
	if err != nil {
		return err
	}
	ack, err := c.venue.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     c.cfg.Symbol,
		Side:       rec.Direction.ExitSide(),
		Type:       domain.OrderTypeMarket,
		Quantity:   qtyStr,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("trading: force close: %w", err)
	}
	c.publish(ctx, domain.EventForcedClose, map[string]string{
		"cycle_id": rec.ID,
		"order_id": fmt.Sprint(ack.OrderID),
		"price":    fmt.Sprint(ack.AvgPrice),
	})
	exitPrice := ack.AvgPrice
	if exitPrice == 0 {
		if mid, ok := c.mirror.MidPrice(); ok {
			exitPrice = mid
		} else {
			exitPrice = rec.EntryPrice
		}
	}
	c.finalize(ctx, rec, result, exitPrice, c.cfg.Fees.Taker)
	c.setState(StateResolved)
	return nil
}

// finalize fills in the exit half of rec, folds it into the counters,
// persists it best effort, and emits the resolution events.
func (c *Cycle) finalize(ctx context.Context, rec *domain.TradeRecord, result domain.TradeResult, exitPrice, exitFeeRate float64) {
	rec.ExitTime = time.Now()
	rec.ExitPrice = exitPrice
	rec.Result = result
	rec.GrossPnL, rec.Fees, rec.NetPnL = NetPnL(
		rec.EntryPrice, exitPrice, rec.Quantity, rec.Direction,
		c.cfg.Fees.Maker, exitFeeRate,
	)

	flipped := c.stats.RecordTrade(*rec)

	c.logger.Info("trade resolved",
		slog.String("cycle_id", rec.ID),
		slog.String("result", string(result)),
		slog.Float64("entry", rec.EntryPrice),
		slog.Float64("exit", exitPrice),
		slog.Float64("net_pnl", rec.NetPnL),
	)
	c.publish(ctx, domain.EventTradeResolved, map[string]string{
		"cycle_id": rec.ID,
		"result":   string(result),
		"net_pnl":  fmt.Sprint(rec.NetPnL),
	})
	if flipped {
		c.logger.Info("direction bias flipped",
			slog.String("direction", string(c.stats.Direction())),
		)
		c.publish(ctx, domain.EventBiasFlipped, map[string]string{
			"cycle_id":  rec.ID,
			"direction": string(c.stats.Direction()),
		})
	}

	if c.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.store.Insert(storeCtx, *rec); err != nil {
			c.logger.Warn("trade record insert failed",
				slog.String("cycle_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// cancelBest cancels ord, logging rather than propagating failure.
func (c *Cycle) cancelBest(ctx context.Context, ord domain.TrackedOrder, role string) {
	if ord.ID() == 0 {
		return
	}
	if err := c.tracker.CancelQuiet(ctx, ord); err != nil {
		c.logger.Warn("cancel failed",
			slog.String("role", role),
			slog.Int64("order_id", ord.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	c.publish(ctx, domain.EventOrderCanceled, map[string]string{
		"role":     role,
		"order_id": fmt.Sprint(ord.ID()),
	})
}

// shutdown resolves an entry order left resting when the run context was
// cancelled mid-await, so a stop never strands a working order on the venue.
// The cancel is re-checked with a query: a fill that raced the cancel leaves
// a real position, which is closed at market before returning.
func (c *Cycle) shutdown(ctx context.Context) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending == nil {
		return
	}

	// The run context is already cancelled; give teardown its own bound.
	downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	c.logger.Info("cancelling resting entry on stop",
		slog.Int64("order_id", pending.ID()),
	)
	c.cancelBest(downCtx, *pending, "entry")

	state, err := c.venue.QueryOrder(downCtx, pending.Symbol, pending.ID())
	if err != nil {
		c.logger.Warn("entry state unknown after stop teardown",
			slog.Int64("order_id", pending.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	if state.Status != domain.OrderStatusFilled {
		return
	}

	// The fill raced the cancel. Nothing will manage this position after
	// Run returns; get flat now.
	dir := domain.DirectionLong
	if pending.Side == domain.SideSell {
		dir = domain.DirectionShort
	}
	c.logger.Warn("entry filled during stop teardown, closing position",
		slog.Int64("order_id", pending.ID()),
		slog.Float64("avg_price", state.AvgPrice),
	)
	rec := &domain.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     c.cfg.Symbol,
		Direction:  dir,
		EntryTime:  time.Now(),
		EntryPrice: state.AvgPrice,
		Quantity:   state.ExecutedQty,
	}
	if err := c.forceCloseAndRecord(downCtx, rec, domain.TradeResultTimeout); err != nil {
		c.logger.Error("force close on stop teardown failed",
			slog.String("error", err.Error()),
		)
	}
}

func (c *Cycle) setState(s CycleState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Cycle) setOpen(rec *domain.TradeRecord) {
	c.mu.Lock()
	c.open = rec
	c.mu.Unlock()
}

func (c *Cycle) setPending(ord *domain.TrackedOrder) {
	c.mu.Lock()
	c.pending = ord
	c.mu.Unlock()
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

// publish emits a telemetry event best effort. Telemetry is never on the
// decision path.
func (c *Cycle) publish(ctx context.Context, typ domain.EventType, fields map[string]string) {
	if c.pub == nil {
		return
	}
	evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := domain.Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Symbol: c.cfg.Symbol,
		At:     time.Now(),
		Fields: fields,
	}
	if err := c.pub.Publish(evCtx, ev); err != nil {
		c.logger.Debug("event publish failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
