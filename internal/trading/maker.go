package trading

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/lifecycle"
	"github.com/nsavelyev/scalpbot/internal/precision"
)

// MakerConfig parameterizes the market-making strategy instance.
type MakerConfig struct {
	Symbol       string
	BaseQuantity float64

	// BaseSpreadPercent is the quote offset from each touch in percent
	// units before the volatility adjustment.
	BaseSpreadPercent float64

	// VolCoefficient scales the coefficient of variation of recent mid
	// prices added on top of the base spread.
	VolCoefficient   float64
	MinSpreadPercent float64
	MaxSpreadPercent float64

	// VolWindow is how many mid-price samples feed the volatility
	// estimate.
	VolWindow int

	// AnchorBandPercent is the containment band around the anchor price,
	// as a fraction (0.02 for 2%). Leaving the band pauses quoting.
	AnchorBandPercent float64

	// EmergencyBandPercent widens the band; crossing it during position
	// reduction forces an immediate market close.
	EmergencyBandPercent float64

	// AnchorRollTrades refreshes the anchor every N completed trades.
	AnchorRollTrades int

	// MaxPositionMultiplier caps inventory at BaseQuantity times this
	// value; exceeding it enters the reduction sub-state.
	MaxPositionMultiplier float64

	DailyLossLimitPct    float64
	MaxConsecutiveLosses int
	BalanceEstimate      float64

	TickInterval  time.Duration
	QuoteTimeout  time.Duration
	ReduceTimeout time.Duration

	Fees FeeRates
}

// makerQuote is one standing passive order plus the bookkeeping the loop
// needs to decide replacement.
type makerQuote struct {
	order  domain.TrackedOrder
	active bool
}

// MakerSnapshot is the read-only view served by the status surface.
type MakerSnapshot struct {
	Paused            bool
	Reducing          bool
	CircuitBroken     bool
	Anchor            float64
	SpreadPercent     float64
	PositionQty       float64
	PositionEntry     float64
	DailyPnL          float64
	ConsecutiveLosses int
	CompletedTrades   int
	TradingDay        string
}

// Maker keeps a standing two-sided passive bracket around the book and rolls
// inventory through fills. Safety controls run before quote maintenance every
// tick: anchor-band containment, the position cap with its reduction
// sub-state, and the daily circuit breaker.
type Maker struct {
	venue   domain.Venue
	mirror  *book.Mirror
	tracker *lifecycle.Tracker
	filters domain.SymbolFilters
	store   domain.TradeStore     // optional
	pub     domain.EventPublisher // optional
	cfg     MakerConfig
	logger  *slog.Logger

	running atomic.Bool

	mu            sync.Mutex
	risk          RiskState
	anchor        float64
	paused        bool
	spreadPct     float64
	bid           makerQuote
	ask           makerQuote
	positionQty   float64 // signed: positive long, negative short
	positionEntry float64
	trades        int
	tradesAtRoll  int
	vol           volWindow
	now           func() time.Time
}

// NewMaker wires a market-making orchestrator. store and pub may be nil.
func NewMaker(
	venue domain.Venue,
	mirror *book.Mirror,
	tracker *lifecycle.Tracker,
	filters domain.SymbolFilters,
	store domain.TradeStore,
	pub domain.EventPublisher,
	cfg MakerConfig,
	logger *slog.Logger,
) *Maker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 30 * time.Second
	}
	if cfg.ReduceTimeout <= 0 {
		cfg.ReduceTimeout = 15 * time.Second
	}
	if cfg.VolWindow <= 0 {
		cfg.VolWindow = 60
	}
	if cfg.MaxPositionMultiplier <= 0 {
		cfg.MaxPositionMultiplier = 3
	}
	if cfg.EmergencyBandPercent <= 0 {
		cfg.EmergencyBandPercent = cfg.AnchorBandPercent * 2
	}
	return &Maker{
		venue:   venue,
		mirror:  mirror,
		tracker: tracker,
		filters: filters,
		store:   store,
		pub:     pub,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "market_maker"), slog.String("symbol", cfg.Symbol)),
		vol:     volWindow{limit: cfg.VolWindow},
		now:     time.Now,
	}
}

// Snapshot returns the current maker state for read-only consumers.
func (m *Maker) Snapshot() MakerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MakerSnapshot{
		Paused:            m.paused,
		Reducing:          m.risk.ReductionActive,
		CircuitBroken:     m.risk.CircuitBroken,
		Anchor:            m.anchor,
		SpreadPercent:     m.spreadPct,
		PositionQty:       m.positionQty,
		PositionEntry:     m.positionEntry,
		DailyPnL:          m.risk.DailyPnL,
		ConsecutiveLosses: m.risk.ConsecutiveLosses,
		CompletedTrades:   m.trades,
		TradingDay:        m.risk.TradingDay,
	}
}

// Run drives the quoting loop until ctx is cancelled. Resting orders are
// cancelled on the way out. Only one Run may be active at a time.
func (m *Maker) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return domain.ErrAlreadyRunning
	}
	defer m.running.Store(false)

	mid, ok := m.mirror.MidPrice()
	if !ok {
		return fmt.Errorf("trading: maker start: %w", domain.ErrNoDepth)
	}
	m.mu.Lock()
	m.anchor = mid
	m.risk.RolloverIfNewDay(m.now())
	m.mu.Unlock()

	m.logger.Info("market maker starting",
		slog.Float64("anchor", mid),
		slog.Float64("base_quantity", m.cfg.BaseQuantity),
	)

	defer m.shutdown(ctx)

	for {
		if err := sleepCtx(ctx, m.cfg.TickInterval); err != nil {
			return nil
		}
		if err := m.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("maker tick failed", slog.String("error", err.Error()))
			m.publish(ctx, domain.EventError, map[string]string{"error": err.Error()})
		}
	}
}

// tick runs one loop pass: day rollover, safety checks, then quote
// maintenance.
func (m *Maker) tick(ctx context.Context) error {
	if rolled := m.rollover(); rolled {
		m.logger.Info("trading day rolled over, counters reset")
		m.publish(ctx, domain.EventTradingResumed, map[string]string{"reason": "day_rollover"})
	}

	if m.circuitBroken() {
		return nil
	}

	mid, ok := m.mirror.MidPrice()
	if !ok {
		return domain.ErrNoDepth
	}
	m.observeMid(mid)

	if done, err := m.enforceContainment(ctx, mid); done || err != nil {
		return err
	}
	if done, err := m.enforcePositionCap(ctx, mid); done || err != nil {
		return err
	}
	if m.checkCircuit(ctx) {
		return nil
	}

	return m.maintainQuotes(ctx, mid)
}

// enforceContainment pauses quoting while price sits outside the anchor
// band: resting orders are cancelled and any position is closed at market,
// and quoting resumes only once price re-enters the band. Returns done=true
// when the tick should stop here.
func (m *Maker) enforceContainment(ctx context.Context, mid float64) (bool, error) {
	m.mu.Lock()
	anchor := m.anchor
	paused := m.paused
	m.mu.Unlock()

	within := IsWithinRange(mid, anchor, m.cfg.AnchorBandPercent)
	switch {
	case !within && !paused:
		m.logger.Warn("price left containment band, pausing",
			slog.Float64("mid", mid),
			slog.Float64("anchor", anchor),
		)
		m.cancelQuotes(ctx)
		if err := m.closePosition(ctx, "containment_exit"); err != nil {
			return true, err
		}
		m.mu.Lock()
		m.paused = true
		m.mu.Unlock()
		m.publish(ctx, domain.EventTradingPaused, map[string]string{
			"mid":    fmt.Sprint(mid),
			"anchor": fmt.Sprint(anchor),
		})
		return true, nil
	case !within && paused:
		return true, nil
	case within && paused:
		m.mu.Lock()
		m.paused = false
		m.mu.Unlock()
		m.logger.Info("price re-entered containment band, resuming",
			slog.Float64("mid", mid),
		)
		m.publish(ctx, domain.EventTradingResumed, map[string]string{"reason": "band_reentry"})
		return false, nil
	default:
		return false, nil
	}
}

// enforcePositionCap enters and drives the reduction sub-state when
// inventory exceeds the cap: standing quotes come down and a single
// reduce-only order works the passive touch, re-priced on timeout, until the
// position shrinks to half the cap. Crossing the emergency band during
// reduction closes at market immediately.
func (m *Maker) enforcePositionCap(ctx context.Context, mid float64) (bool, error) {
	capQty := m.cfg.BaseQuantity * m.cfg.MaxPositionMultiplier
	resume := capQty / 2

	m.mu.Lock()
	qty := m.positionQty
	reducing := m.risk.ReductionActive
	anchor := m.anchor
	m.mu.Unlock()

	absQty := math.Abs(qty)

	if !reducing {
		if absQty < capQty {
			return false, nil
		}
		m.logger.Warn("position cap exceeded, entering reduction",
			slog.Float64("position", qty),
			slog.Float64("cap", capQty),
		)
		m.cancelQuotes(ctx)
		m.mu.Lock()
		m.risk.ReductionActive = true
		m.risk.ReductionStartPrice = mid
		m.risk.ReductionStartSize = absQty
		m.risk.ReduceOrder = nil
		m.mu.Unlock()
		m.publish(ctx, domain.EventReductionStarted, map[string]string{
			"position": fmt.Sprint(qty),
			"cap":      fmt.Sprint(capQty),
		})
	}

	// Emergency trigger: price deviation during reduction means passive
	// unwinding is losing the race.
	if !IsWithinRange(mid, anchor, m.cfg.EmergencyBandPercent) {
		m.logger.Warn("emergency band crossed during reduction, market closing",
			slog.Float64("mid", mid),
		)
		m.cancelReduceOrder(ctx)
		if err := m.closePosition(ctx, "reduction_emergency"); err != nil {
			return true, err
		}
		m.exitReduction()
		return true, nil
	}

	if absQty <= resume {
		m.cancelReduceOrder(ctx)
		m.exitReduction()
		m.logger.Info("position back under resume threshold, reduction complete",
			slog.Float64("position", qty),
		)
		return false, nil
	}

	return true, m.workReduceOrder(ctx, qty)
}

// workReduceOrder keeps exactly one reduce-only order at the passive touch,
// re-pricing it when it rests too long, and folds fills into the position.
func (m *Maker) workReduceOrder(ctx context.Context, qty float64) error {
	m.mu.Lock()
	ord := m.risk.ReduceOrder
	m.mu.Unlock()

	if ord != nil {
		state, err := m.venue.QueryOrder(ctx, m.cfg.Symbol, ord.ID())
		if err != nil {
			return fmt.Errorf("trading: reduce order query: %w", err)
		}
		switch {
		case state.Status == domain.OrderStatusFilled:
			m.applyFill(ctx, ord.Side, state.AvgPrice, state.ExecutedQty, true)
			m.mu.Lock()
			m.risk.ReduceOrder = nil
			m.mu.Unlock()
			return nil
		case state.Status.Terminal():
			m.mu.Lock()
			m.risk.ReduceOrder = nil
			m.mu.Unlock()
		case m.now().Sub(ord.PlacedAt) >= m.cfg.ReduceTimeout:
			// Rested too long; chase the touch.
			if err := m.tracker.CancelQuiet(ctx, *ord); err != nil {
				m.logger.Warn("reduce order cancel failed", slog.String("error", err.Error()))
				return nil
			}
			m.mu.Lock()
			m.risk.ReduceOrder = nil
			m.mu.Unlock()
		default:
			return nil
		}
	}

	// Place a fresh reduce-only order at the passive touch on the exit
	// side. A long reduces by selling at the ask touch, a short by buying
	// at the bid touch.
	var (
		side  domain.Side
		level domain.PriceLevel
		ok    bool
	)
	if qty > 0 {
		side = domain.SideSell
		level, ok = m.mirror.BestAsk()
	} else {
		side = domain.SideBuy
		level, ok = m.mirror.BestBid()
	}
	if !ok {
		return domain.ErrNoDepth
	}

	step := math.Min(math.Abs(qty), m.cfg.BaseQuantity)
	req, err := m.quoteRequest(side, level.Price, step, true)
	if err != nil {
		return err
	}
	placed, err := m.tracker.PlaceLimit(ctx, req)
	if err != nil {
		return fmt.Errorf("trading: place reduce order: %w", err)
	}
	m.mu.Lock()
	m.risk.ReduceOrder = &placed
	m.mu.Unlock()
	return nil
}

// checkCircuit trips the daily breaker when the loss limit or the
// consecutive-loss count is breached. Once broken, everything comes down and
// quoting stops until the next trading day.
func (m *Maker) checkCircuit(ctx context.Context) bool {
	m.mu.Lock()
	dailyPnL := m.risk.DailyPnL
	losses := m.risk.ConsecutiveLosses
	m.mu.Unlock()

	if !CircuitShouldTrip(dailyPnL, m.cfg.BalanceEstimate, m.cfg.DailyLossLimitPct, losses, m.cfg.MaxConsecutiveLosses) {
		return false
	}

	m.logger.Error("circuit breaker tripped, halting for the day",
		slog.Float64("daily_pnl", dailyPnL),
		slog.Int("consecutive_losses", losses),
	)
	m.cancelQuotes(ctx)
	m.cancelReduceOrder(ctx)
	if err := m.closePosition(ctx, "circuit_breaker"); err != nil {
		m.logger.Error("close on circuit trip failed", slog.String("error", err.Error()))
	}
	m.mu.Lock()
	m.risk.CircuitBroken = true
	m.exitReductionLocked()
	m.mu.Unlock()
	m.publish(ctx, domain.EventCircuitTripped, map[string]string{
		"daily_pnl":          fmt.Sprint(dailyPnL),
		"consecutive_losses": fmt.Sprint(losses),
	})
	return true
}

// maintainQuotes keeps both passive quotes resting: polls each for fills,
// replaces stale or retired quotes, and re-centers after a fill.
func (m *Maker) maintainQuotes(ctx context.Context, mid float64) error {
	spread := m.currentSpread()
	m.mu.Lock()
	m.spreadPct = spread
	bid := m.bid
	ask := m.ask
	m.mu.Unlock()

	filled := false
	for _, q := range []struct {
		quote *makerQuote
		side  domain.Side
	}{{&bid, domain.SideBuy}, {&ask, domain.SideSell}} {
		if !q.quote.active {
			continue
		}
		state, err := m.venue.QueryOrder(ctx, m.cfg.Symbol, q.quote.order.ID())
		if err != nil {
			m.logger.Warn("quote status query failed",
				slog.Int64("order_id", q.quote.order.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch {
		case state.Status == domain.OrderStatusFilled:
			m.applyFill(ctx, q.side, state.AvgPrice, state.ExecutedQty, false)
			q.quote.active = false
			filled = true
		case state.Status.Terminal():
			// Post-only rejection or external cancel; re-place below.
			q.quote.active = false
		case m.now().Sub(q.quote.order.PlacedAt) >= m.cfg.QuoteTimeout:
			if err := m.tracker.CancelQuiet(ctx, q.quote.order); err == nil {
				q.quote.active = false
			}
		}
	}

	if filled {
		// One side traded: take the sibling down and re-center both on
		// the current book.
		if bid.active {
			m.cancelBest(ctx, bid.order, "maker_bid")
			bid.active = false
		}
		if ask.active {
			m.cancelBest(ctx, ask.order, "maker_ask")
			ask.active = false
		}
	}

	m.mu.Lock()
	m.bid = bid
	m.ask = ask
	m.mu.Unlock()

	return m.placeMissingQuotes(ctx, spread)
}

// placeMissingQuotes re-arms whichever side is not resting, offset from the
// touch by the current spread.
func (m *Maker) placeMissingQuotes(ctx context.Context, spreadPct float64) error {
	m.mu.Lock()
	needBid := !m.bid.active
	needAsk := !m.ask.active
	m.mu.Unlock()

	if needBid {
		touch, ok := m.mirror.BestBid()
		if !ok {
			return domain.ErrNoDepth
		}
		price := touch.Price * (1 - spreadPct/100)
		req, err := m.quoteRequest(domain.SideBuy, price, m.cfg.BaseQuantity, false)
		if err != nil {
			return err
		}
		placed, err := m.tracker.PlaceLimit(ctx, req)
		if err != nil {
			return fmt.Errorf("trading: place bid quote: %w", err)
		}
		m.mu.Lock()
		m.bid = makerQuote{order: placed, active: true}
		m.mu.Unlock()
	}
	if needAsk {
		touch, ok := m.mirror.BestAsk()
		if !ok {
			return domain.ErrNoDepth
		}
		price := touch.Price * (1 + spreadPct/100)
		req, err := m.quoteRequest(domain.SideSell, price, m.cfg.BaseQuantity, false)
		if err != nil {
			return err
		}
		placed, err := m.tracker.PlaceLimit(ctx, req)
		if err != nil {
			return fmt.Errorf("trading: place ask quote: %w", err)
		}
		m.mu.Lock()
		m.ask = makerQuote{order: placed, active: true}
		m.mu.Unlock()
	}
	return nil
}

// applyFill folds an executed quote into inventory. The closing portion of a
// fill against opposite-side inventory realizes P&L; any remainder opens or
// extends inventory at the fill price.
func (m *Maker) applyFill(ctx context.Context, side domain.Side, price, qty float64, takerExit bool) {
	if qty <= 0 || price <= 0 {
		return
	}
	signed := qty
	if side == domain.SideSell {
		signed = -qty
	}

	m.mu.Lock()
	pos := m.positionQty
	entry := m.positionEntry

	var closed float64
	if pos != 0 && (pos > 0) != (signed > 0) {
		closed = math.Min(math.Abs(pos), math.Abs(signed))
	}
	newPos := pos + signed
	switch {
	case newPos == 0:
		m.positionEntry = 0
	case closed == 0 && pos != 0:
		// Same-side extension: average the entry.
		m.positionEntry = (entry*math.Abs(pos) + price*qty) / math.Abs(newPos)
	case math.Abs(signed) > math.Abs(pos) && closed > 0:
		// Flipped through flat; remainder opens at the fill price.
		m.positionEntry = price
	case pos == 0:
		m.positionEntry = price
	}
	m.positionQty = newPos
	m.mu.Unlock()

	m.logger.Info("quote filled",
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("quantity", qty),
		slog.Float64("position", newPos),
	)

	if closed > 0 {
		dir := domain.DirectionLong
		if pos < 0 {
			dir = domain.DirectionShort
		}
		exitRate := m.cfg.Fees.Maker
		if takerExit {
			exitRate = m.cfg.Fees.Taker
		}
		gross, fees, net := NetPnL(entry, price, closed, dir, m.cfg.Fees.Maker, exitRate)
		m.recordRoundTrip(ctx, dir, entry, price, closed, gross, fees, net)
	}
}

// recordRoundTrip finalizes one realized close: daily risk counters, trade
// count, anchor rolling, persistence, telemetry.
func (m *Maker) recordRoundTrip(ctx context.Context, dir domain.Direction, entry, exit, qty, gross, fees, net float64) {
	m.mu.Lock()
	m.risk.RecordResult(net)
	m.trades++
	rollAnchor := m.cfg.AnchorRollTrades > 0 && m.trades-m.tradesAtRoll >= m.cfg.AnchorRollTrades
	if rollAnchor {
		if mid, ok := m.mirror.MidPrice(); ok {
			m.anchor = mid
			m.tradesAtRoll = m.trades
		}
	}
	anchor := m.anchor
	m.mu.Unlock()

	result := domain.TradeResultWin
	if net < 0 {
		result = domain.TradeResultLoss
	}
	now := m.now()
	rec := domain.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     m.cfg.Symbol,
		Direction:  dir,
		EntryTime:  now,
		EntryPrice: entry,
		Quantity:   qty,
		ExitTime:   now,
		ExitPrice:  exit,
		Result:     result,
		GrossPnL:   gross,
		Fees:       fees,
		NetPnL:     net,
	}

	m.logger.Info("round trip realized",
		slog.String("direction", string(dir)),
		slog.Float64("entry", entry),
		slog.Float64("exit", exit),
		slog.Float64("net_pnl", net),
	)
	if rollAnchor {
		m.logger.Info("anchor rolled", slog.Float64("anchor", anchor))
	}
	m.publish(ctx, domain.EventTradeResolved, map[string]string{
		"result":  string(result),
		"net_pnl": fmt.Sprint(net),
	})

	if m.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := m.store.Insert(storeCtx, rec); err != nil {
			m.logger.Warn("trade record insert failed", slog.String("error", err.Error()))
		}
	}
}

// quoteRequest builds a formatted passive limit order.
func (m *Maker) quoteRequest(side domain.Side, price, qty float64, reduceOnly bool) (domain.OrderRequest, error) {
	priceStr, err := precision.FormatPrice(price, m.filters.TickSize)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	qtyStr, err := precision.FormatQuantity(qty, m.filters.StepSize)
	if err != nil {
		return domain.OrderRequest{}, err
	}
	return domain.OrderRequest{
		Symbol:      m.cfg.Symbol,
		Side:        side,
		Type:        domain.OrderTypeLimit,
		Price:       priceStr,
		Quantity:    qtyStr,
		TimeInForce: domain.TimeInForceGTX,
		ReduceOnly:  reduceOnly,
	}, nil
}

// closePosition market-closes whatever inventory is held and realizes its
// P&L against the taker fee.
func (m *Maker) closePosition(ctx context.Context, reason string) error {
	m.mu.Lock()
	qty := m.positionQty
	m.mu.Unlock()
	if qty == 0 {
		return nil
	}

	side := domain.SideSell
	if qty < 0 {
		side = domain.SideBuy
	}
	qtyStr, err := precision.FormatQuantity(math.Abs(qty), m.filters.StepSize)
	if err != nil {
		return err
	}
	ack, err := m.venue.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:     m.cfg.Symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Quantity:   qtyStr,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("trading: close position (%s): %w", reason, err)
	}
	m.publish(ctx, domain.EventForcedClose, map[string]string{
		"reason":   reason,
		"order_id": fmt.Sprint(ack.OrderID),
	})

	price := ack.AvgPrice
	if price == 0 {
		if mid, ok := m.mirror.MidPrice(); ok {
			price = mid
		}
	}
	if price == 0 {
		// No execution price from the ack and no mid to estimate with.
		// The close still happened on the venue, so realize it against
		// the entry rather than leave phantom inventory on the books.
		m.mu.Lock()
		price = m.positionEntry
		m.mu.Unlock()
	}
	m.applyFill(ctx, side, price, math.Abs(qty), true)
	return nil
}

// currentSpread is base plus the volatility adjustment, clamped.
func (m *Maker) currentSpread() float64 {
	m.mu.Lock()
	cv := m.vol.CV()
	m.mu.Unlock()

	spread := m.cfg.BaseSpreadPercent + m.cfg.VolCoefficient*cv
	if m.cfg.MinSpreadPercent > 0 && spread < m.cfg.MinSpreadPercent {
		spread = m.cfg.MinSpreadPercent
	}
	if m.cfg.MaxSpreadPercent > 0 && spread > m.cfg.MaxSpreadPercent {
		spread = m.cfg.MaxSpreadPercent
	}
	return spread
}

func (m *Maker) observeMid(mid float64) {
	m.mu.Lock()
	m.vol.Add(mid)
	m.mu.Unlock()
}

func (m *Maker) rollover() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.risk.RolloverIfNewDay(m.now())
}

func (m *Maker) circuitBroken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.risk.CircuitBroken
}

func (m *Maker) exitReduction() {
	m.mu.Lock()
	m.exitReductionLocked()
	m.mu.Unlock()
}

func (m *Maker) exitReductionLocked() {
	m.risk.ReductionActive = false
	m.risk.ReductionStartPrice = 0
	m.risk.ReductionStartSize = 0
	m.risk.ReduceOrder = nil
}

func (m *Maker) cancelQuotes(ctx context.Context) {
	m.mu.Lock()
	bid := m.bid
	ask := m.ask
	m.bid = makerQuote{}
	m.ask = makerQuote{}
	m.mu.Unlock()

	if bid.active {
		m.cancelBest(ctx, bid.order, "maker_bid")
	}
	if ask.active {
		m.cancelBest(ctx, ask.order, "maker_ask")
	}
}

func (m *Maker) cancelReduceOrder(ctx context.Context) {
	m.mu.Lock()
	ord := m.risk.ReduceOrder
	m.risk.ReduceOrder = nil
	m.mu.Unlock()
	if ord != nil {
		m.cancelBest(ctx, *ord, "reduce")
	}
}

func (m *Maker) cancelBest(ctx context.Context, ord domain.TrackedOrder, role string) {
	if ord.ID() == 0 {
		return
	}
	if err := m.tracker.CancelQuiet(ctx, ord); err != nil {
		m.logger.Warn("cancel failed",
			slog.String("role", role),
			slog.Int64("order_id", ord.ID()),
			slog.String("error", err.Error()),
		)
		return
	}
	m.publish(ctx, domain.EventOrderCanceled, map[string]string{
		"role":     role,
		"order_id": fmt.Sprint(ord.ID()),
	})
}

// shutdown takes everything down cooperatively on exit.
func (m *Maker) shutdown(ctx context.Context) {
	// The run context is already cancelled; give teardown its own bound.
	downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	m.cancelQuotes(downCtx)
	m.cancelReduceOrder(downCtx)
	if err := m.venue.CancelAllOrders(downCtx, m.cfg.Symbol); err != nil {
		m.logger.Warn("cancel all on shutdown failed", slog.String("error", err.Error()))
	}
	m.logger.Info("market maker stopped")
}

func (m *Maker) publish(ctx context.Context, typ domain.EventType, fields map[string]string) {
	if m.pub == nil {
		return
	}
	evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := domain.Event{
		ID:     uuid.NewString(),
		Type:   typ,
		Symbol: m.cfg.Symbol,
		At:     m.now(),
		Fields: fields,
	}
	if err := m.pub.Publish(evCtx, ev); err != nil {
		m.logger.Debug("event publish failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

// volWindow is a bounded sample window over recent mid prices exposing the
// coefficient of variation (stddev over mean).
type volWindow struct {
	samples []float64
	limit   int
}

func (w *volWindow) Add(v float64) {
	w.samples = append(w.samples, v)
	if len(w.samples) > w.limit {
		w.samples = w.samples[len(w.samples)-w.limit:]
	}
}

// CV returns the coefficient of variation in percent units, 0 until at least
// two samples exist.
func (w *volWindow) CV() float64 {
	n := len(w.samples)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range w.samples {
		sum += v
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	var ss float64
	for _, v := range w.samples {
		d := v - mean
		ss += d * d
	}
	stddev := math.Sqrt(ss / float64(n))
	return stddev / mean * 100
}
