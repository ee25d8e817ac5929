package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/nsavelyev/scalpbot/internal/blob/s3"
	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/feed"
	"github.com/nsavelyev/scalpbot/internal/lifecycle"
	"github.com/nsavelyev/scalpbot/internal/server"
	"github.com/nsavelyev/scalpbot/internal/server/handler"
	"github.com/nsavelyev/scalpbot/internal/server/ws"
	"github.com/nsavelyev/scalpbot/internal/trading"
)

const (
	// runLockTTL is the liveness window on the cross-process run lock. The
	// lock is refreshed in the background while held, so this only has to
	// cover a crashed process.
	runLockTTL = 30 * time.Second

	// bookPrimeTimeout bounds the wait for the first depth data before the
	// strategy starts.
	bookPrimeTimeout = 30 * time.Second
)

// eventFan republishes each event to every attached publisher. Failures are
// independent; one slow or broken publisher never blocks the others.
type eventFan struct {
	pubs []domain.EventPublisher
}

func (f *eventFan) Publish(ctx context.Context, ev domain.Event) error {
	for _, p := range f.pubs {
		_ = p.Publish(ctx, ev)
	}
	return nil
}

// publisherFunc adapts a function to domain.EventPublisher.
type publisherFunc func(ctx context.Context, ev domain.Event) error

func (f publisherFunc) Publish(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// buildPublisher fans events out to the Redis bus, the notifier, and the
// WebSocket hub. Returns nil when nobody is listening.
func (a *App) buildPublisher(deps *Dependencies, hub *ws.Hub) domain.EventPublisher {
	fan := &eventFan{}
	if deps.EventBus != nil {
		fan.pubs = append(fan.pubs, deps.EventBus)
	}
	if deps.Notifier != nil {
		fan.pubs = append(fan.pubs, publisherFunc(func(ctx context.Context, ev domain.Event) error {
			deps.Notifier.HandleEvent(ctx, ev)
			return nil
		}))
	}
	if hub != nil {
		fan.pubs = append(fan.pubs, publisherFunc(func(_ context.Context, ev domain.Event) error {
			hub.Broadcast(ev)
			return nil
		}))
	}
	if len(fan.pubs) == 0 {
		return nil
	}
	return fan
}

// acquireRunLock takes the cross-process single-instance lock for the symbol
// when a lock manager is configured. The returned release function is always
// safe to call.
func (a *App) acquireRunLock(ctx context.Context, deps *Dependencies) (func(), error) {
	if deps.LockManager == nil {
		return func() {}, nil
	}
	key := "strategy:" + a.cfg.Trading.Symbol
	unlock, err := deps.LockManager.Acquire(ctx, key, runLockTTL)
	if err != nil {
		return nil, fmt.Errorf("app: acquire run lock %s: %w", key, err)
	}
	a.logger.InfoContext(ctx, "run lock acquired", slog.String("key", key))
	return unlock, nil
}

func (a *App) buildFeed(mirror *book.Mirror, deps *Dependencies) *feed.DepthFeed {
	return feed.NewDepthFeed(
		a.cfg.Binance.WsURL,
		a.cfg.Trading.DepthLevels,
		mirror,
		deps.Venue,
		deps.BookTopCache,
		a.logger,
	)
}

func (a *App) buildTracker(deps *Dependencies) *lifecycle.Tracker {
	trackerCfg := lifecycle.DefaultConfig()
	if d := a.cfg.Trading.PollInterval.Duration; d > 0 {
		trackerCfg.PollInterval = d
	}
	if d := a.cfg.Trading.EntryTimeout.Duration; d > 0 {
		trackerCfg.EntryTimeout = d
	}
	if d := a.cfg.Trading.MonitorCeiling.Duration; d > 0 {
		trackerCfg.MonitorCeiling = d
	}
	return lifecycle.NewTracker(deps.Venue, trackerCfg, a.logger)
}

// waitForBook blocks until the mirror has data or the timeout passes. A slow
// prime is logged, not fatal; the strategy retries on its own.
func (a *App) waitForBook(ctx context.Context, mirror *book.Mirror) {
	deadline := time.Now().Add(bookPrimeTimeout)
	for time.Now().Before(deadline) {
		if mirror.HasData() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	a.logger.WarnContext(ctx, "book not primed before strategy start",
		slog.String("symbol", mirror.Symbol()),
	)
}

// startServer registers the control surface and runs it under the group.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, hub *ws.Hub) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if hub != nil {
		g.Go(func() error { return hub.Run(ctx) })
	}
}

// startArchiver runs the daily trade-log uploader when both the store and
// blob storage are configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.BlobWriter == nil || deps.TradeStore == nil {
		return
	}
	arch := s3blob.NewArchiver(
		deps.BlobWriter,
		deps.TradeStore,
		a.cfg.Trading.Symbol,
		a.cfg.S3.ArchiveEvery.Duration,
		a.logger,
	)
	g.Go(func() error { return arch.Run(ctx) })
}

func (a *App) cycleConfig() trading.CycleConfig {
	t := a.cfg.Trading
	return trading.CycleConfig{
		Symbol:            t.Symbol,
		Quantity:          t.Quantity,
		EntryLevel:        t.EntryLevel,
		TakeProfitLevel:   t.TakeProfitLevel,
		StopLossLevel:     t.StopLossLevel,
		UseRiskReward:     t.UseRiskReward,
		SLDistancePercent: t.SLDistancePercent,
		RiskRewardRatio:   t.RiskRewardRatio,
		LossFlipThreshold: t.LossFlipThreshold,
		CycleDelay:        t.CycleDelay.Duration,
		BookRetries:       t.BookRetries,
		BookRetryDelay:    t.BookRetryDelay.Duration,
		Fees: trading.FeeRates{
			Maker: a.cfg.Fees.Maker,
			Taker: a.cfg.Fees.Taker,
		},
	}
}

func (a *App) makerConfig() trading.MakerConfig {
	m := a.cfg.Maker
	return trading.MakerConfig{
		Symbol:                a.cfg.Trading.Symbol,
		BaseQuantity:          m.BaseQuantity,
		BaseSpreadPercent:     m.BaseSpreadPercent,
		VolCoefficient:        m.VolCoefficient,
		MinSpreadPercent:      m.MinSpreadPercent,
		MaxSpreadPercent:      m.MaxSpreadPercent,
		VolWindow:             m.VolWindow,
		AnchorBandPercent:     m.AnchorBandPercent,
		EmergencyBandPercent:  m.EmergencyBandPercent,
		AnchorRollTrades:      m.AnchorRollTrades,
		MaxPositionMultiplier: m.MaxPositionMultiplier,
		DailyLossLimitPct:     m.DailyLossLimitPct,
		MaxConsecutiveLosses:  m.MaxConsecutiveLosses,
		BalanceEstimate:       m.BalanceEstimate,
		TickInterval:          m.TickInterval.Duration,
		QuoteTimeout:          m.QuoteTimeout.Duration,
		ReduceTimeout:         m.ReduceTimeout.Duration,
		Fees: trading.FeeRates{
			Maker: a.cfg.Fees.Maker,
			Taker: a.cfg.Fees.Taker,
		},
	}
}

// CycleMode runs the sequential trade-cycle strategy with the depth feed,
// control surface, telemetry, and archival around it.
func (a *App) CycleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting cycle mode")

	unlock, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	mirror := book.NewMirror(a.cfg.Trading.Symbol)
	depthFeed := a.buildFeed(mirror, deps)
	g.Go(func() error {
		defer depthFeed.Close()
		return depthFeed.Run(ctx)
	})

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
	}
	pub := a.buildPublisher(deps, hub)

	direction := domain.Direction(a.cfg.Trading.InitialDirection)
	stats := trading.NewStats(direction, a.cfg.Trading.LossFlipThreshold, 100)
	cycle := trading.NewCycle(
		deps.Venue,
		mirror,
		a.buildTracker(deps),
		deps.Filters,
		stats,
		deps.TradeStore,
		pub,
		a.cycleConfig(),
		a.logger,
	)

	sup := NewSupervisor(ctx, cycle.Run, a.logger)

	a.waitForBook(ctx, mirror)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("app: start cycle: %w", err)
	}

	a.startServer(ctx, g, server.Handlers{
		Health:  handler.NewHealthHandler(time.Now()),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Symbol, time.Now(), cycle, nil, mirror),
		Trades:  handler.NewTradesHandler(deps.TradeStore, stats, a.cfg.Trading.Symbol, a.logger),
		Events:  handler.NewEventsHandler(eventHistory(deps), a.logger),
		Control: handler.NewControlHandler(sup, a.logger),
	}, hub)
	a.startArchiver(ctx, g, deps)

	err = g.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sup.Stop(stopCtx)
	return err
}

// MakerMode runs the passive market-making strategy with the same supporting
// services as cycle mode.
func (a *App) MakerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting maker mode")

	unlock, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	mirror := book.NewMirror(a.cfg.Trading.Symbol)
	depthFeed := a.buildFeed(mirror, deps)
	g.Go(func() error {
		defer depthFeed.Close()
		return depthFeed.Run(ctx)
	})

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
	}
	pub := a.buildPublisher(deps, hub)

	maker := trading.NewMaker(
		deps.Venue,
		mirror,
		a.buildTracker(deps),
		deps.Filters,
		deps.TradeStore,
		pub,
		a.makerConfig(),
		a.logger,
	)

	sup := NewSupervisor(ctx, maker.Run, a.logger)

	a.waitForBook(ctx, mirror)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("app: start maker: %w", err)
	}

	a.startServer(ctx, g, server.Handlers{
		Health:  handler.NewHealthHandler(time.Now()),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Symbol, time.Now(), nil, maker, mirror),
		Trades:  handler.NewTradesHandler(deps.TradeStore, nil, a.cfg.Trading.Symbol, a.logger),
		Events:  handler.NewEventsHandler(eventHistory(deps), a.logger),
		Control: handler.NewControlHandler(sup, a.logger),
	}, hub)
	a.startArchiver(ctx, g, deps)

	err = g.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sup.Stop(stopCtx)
	return err
}

// MonitorMode mirrors the book and serves status without placing any orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	mirror := book.NewMirror(a.cfg.Trading.Symbol)
	depthFeed := a.buildFeed(mirror, deps)
	g.Go(func() error {
		defer depthFeed.Close()
		return depthFeed.Run(ctx)
	})

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
	}

	a.startServer(ctx, g, server.Handlers{
		Health: handler.NewHealthHandler(time.Now()),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Symbol, time.Now(), nil, nil, mirror),
		Trades: handler.NewTradesHandler(deps.TradeStore, nil, a.cfg.Trading.Symbol, a.logger),
		Events: handler.NewEventsHandler(eventHistory(deps), a.logger),
	}, hub)

	// Forward bus events from a trading process to the hub and notifier.
	if deps.EventBus != nil && hub != nil {
		g.Go(func() error {
			return deps.EventBus.Consume(ctx, func(ev domain.Event) {
				hub.Broadcast(ev)
			})
		})
	}

	return g.Wait()
}

// ServerMode serves trade history and events over HTTP with no venue access.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: server mode requires server.enabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger)
	a.startServer(ctx, g, server.Handlers{
		Health: handler.NewHealthHandler(time.Now()),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Trading.Symbol, time.Now(), nil, nil, nil),
		Trades: handler.NewTradesHandler(deps.TradeStore, nil, a.cfg.Trading.Symbol, a.logger),
		Events: handler.NewEventsHandler(eventHistory(deps), a.logger),
	}, hub)

	if deps.EventBus != nil {
		g.Go(func() error {
			return deps.EventBus.Consume(ctx, func(ev domain.Event) {
				hub.Broadcast(ev)
			})
		})
	}

	return g.Wait()
}

// eventHistory returns the bus-backed history reader, or nil when Redis is
// not configured. Typed nil interfaces would pass the handler's nil check,
// hence the helper.
func eventHistory(deps *Dependencies) handler.EventHistory {
	if deps.EventBus == nil {
		return nil
	}
	return deps.EventBus
}
