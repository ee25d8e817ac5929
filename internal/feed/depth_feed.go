// Package feed drives the depth stream into the book mirror. It owns the
// reconnect policy: each (re)connect re-primes the mirror from a REST
// snapshot before diffs are applied, so the mirror's sequence floor is always
// anchored to a known-good snapshot.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nsavelyev/scalpbot/internal/book"
	"github.com/nsavelyev/scalpbot/internal/domain"
	"github.com/nsavelyev/scalpbot/internal/platform/binance"
)

const (
	// snapshotDepth is the REST snapshot level count used to prime the mirror.
	snapshotDepth = 100

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SnapshotFetcher fetches a depth snapshot; implemented by the REST client.
type SnapshotFetcher interface {
	DepthSnapshot(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error)
}

// DepthFeed applies the venue depth stream to a book mirror and mirrors the
// top of book into the cache for monitoring. The feed never blocks on
// strategy decisions; the orchestrator reads the mirror independently.
type DepthFeed struct {
	wsURL     string
	levels    int
	mirror    *book.Mirror
	snapshots SnapshotFetcher
	topCache  domain.BookTopCache // optional, best effort
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDepthFeed creates a feed for the mirror's symbol. topCache may be nil.
func NewDepthFeed(wsURL string, levels int, mirror *book.Mirror, snapshots SnapshotFetcher, topCache domain.BookTopCache, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{
		wsURL:     wsURL,
		levels:    levels,
		mirror:    mirror,
		snapshots: snapshots,
		topCache:  topCache,
		logger:    logger.With(slog.String("component", "depth_feed")),
		done:      make(chan struct{}),
	}
}

// Prime fetches a REST snapshot and replaces the mirror state. Called during
// initialization and again after every reconnect.
func (f *DepthFeed) Prime(ctx context.Context) error {
	snap, err := f.snapshots.DepthSnapshot(ctx, f.mirror.Symbol(), snapshotDepth)
	if err != nil {
		return fmt.Errorf("feed: prime book: %w", err)
	}
	f.mirror.ApplySnapshot(snap.Bids, snap.Asks, snap.LastUpdateID)
	f.logger.Info("book primed from snapshot",
		slog.String("symbol", f.mirror.Symbol()),
		slog.Int64("last_update_id", snap.LastUpdateID),
		slog.Int("bids", len(snap.Bids)),
		slog.Int("asks", len(snap.Asks)),
	)
	return nil
}

// Run connects the stream and applies diffs until ctx is cancelled or Close
// is called. Reconnects with exponential backoff, re-priming the mirror each
// time.
func (f *DepthFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("depth stream disconnected, reconnecting",
			slog.String("symbol", f.mirror.Symbol()),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *DepthFeed) runConnection(ctx context.Context) error {
	stream := binance.NewDepthStream(f.wsURL, f.mirror.Symbol(), f.levels)
	defer stream.Close()

	stream.OnDepth(func(diff domain.DepthDiff) {
		if !f.mirror.ApplyDiff(diff.Bids, diff.Asks, diff.FinalUpdateID) {
			return
		}
		f.publishTop(ctx)
	})

	if err := stream.Connect(ctx); err != nil {
		return err
	}

	// Snapshot after connect so no gap opens between snapshot and stream:
	// diffs older than the snapshot are discarded by the mirror's sequence
	// check.
	if err := f.Prime(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case err := <-stream.Err():
		return err
	}
}

// publishTop mirrors the current top of book into the cache. Failures are
// logged at debug and otherwise ignored; the cache is observational only.
func (f *DepthFeed) publishTop(ctx context.Context) {
	if f.topCache == nil {
		return
	}
	top, ok := f.mirror.Top()
	if !ok {
		return
	}
	cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := f.topCache.Set(cacheCtx, top); err != nil {
		f.logger.Debug("book top cache write failed", slog.String("error", err.Error()))
	}
}

// Close stops the feed.
func (f *DepthFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
