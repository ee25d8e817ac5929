// Package book maintains a local mirror of one symbol's order book from a
// sequence-numbered snapshot + diff stream, and derives the price levels the
// trading strategies quote from.
package book

import (
	"sync"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Mirror is a consistent local view of bid/ask levels. The stream task writes
// through ApplySnapshot/ApplyDiff while the orchestrator reads concurrently;
// every read returns a view consistent at the moment of the query. Stale or
// duplicated diffs (finalUpdateId <= lastUpdateId) are discarded unapplied.
type Mirror struct {
	mu           sync.RWMutex
	symbol       string
	bids         []domain.PriceLevel // descending by price
	asks         []domain.PriceLevel // ascending by price
	lastUpdateID int64
	observedAt   time.Time
	primed       bool
}

// NewMirror creates an empty mirror for symbol. It has no data until the
// first snapshot is applied.
func NewMirror(symbol string) *Mirror {
	return &Mirror{symbol: symbol}
}

// Symbol returns the symbol this mirror tracks.
func (m *Mirror) Symbol() string {
	return m.symbol
}

// ApplySnapshot replaces the entire book state unconditionally and records
// updateID as the new sequence floor.
func (m *Mirror) ApplySnapshot(bids, asks []domain.PriceLevel, updateID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = cloneLevels(bids)
	m.asks = cloneLevels(asks)
	m.lastUpdateID = updateID
	m.observedAt = time.Now()
	m.primed = true
}

// ApplyDiff replaces the bid/ask arrays only when the diff's final update id
// is strictly greater than the current one. Older or duplicate diffs are a
// silent no-op, guarding against stream reordering and redelivery. The whole
// level arrays are replaced per message, matching this venue's partial-depth
// stream contract. Returns true when the diff was applied.
func (m *Mirror) ApplyDiff(bids, asks []domain.PriceLevel, finalUpdateID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primed || finalUpdateID <= m.lastUpdateID {
		return false
	}
	m.bids = cloneLevels(bids)
	m.asks = cloneLevels(asks)
	m.lastUpdateID = finalUpdateID
	m.observedAt = time.Now()
	return true
}

// HasData reports whether a snapshot has been applied and both sides are
// non-empty.
func (m *Mirror) HasData() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primed && len(m.bids) > 0 && len(m.asks) > 0
}

// LastUpdateID returns the sequence number of the last applied message.
func (m *Mirror) LastUpdateID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdateID
}

// BestBid returns the highest bid. ok is false when the bid side is empty.
func (m *Mirror) BestBid() (domain.PriceLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return m.bids[0], true
}

// BestAsk returns the lowest ask. ok is false when the ask side is empty.
func (m *Mirror) BestAsk() (domain.PriceLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return m.asks[0], true
}

// BidAtLevel returns the bid at depth rank n (1-indexed: 1 is the best bid).
// ok is false when n exceeds the available depth.
func (m *Mirror) BidAtLevel(n int) (domain.PriceLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 1 || n > len(m.bids) {
		return domain.PriceLevel{}, false
	}
	return m.bids[n-1], true
}

// AskAtLevel returns the ask at depth rank n (1-indexed: 1 is the best ask).
// ok is false when n exceeds the available depth.
func (m *Mirror) AskAtLevel(n int) (domain.PriceLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n < 1 || n > len(m.asks) {
		return domain.PriceLevel{}, false
	}
	return m.asks[n-1], true
}

// MidPrice returns the midpoint of best bid and best ask.
func (m *Mirror) MidPrice() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 || len(m.asks) == 0 {
		return 0, false
	}
	return (m.bids[0].Price + m.asks[0].Price) / 2, true
}

// Spread returns best ask minus best bid.
func (m *Mirror) Spread() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 || len(m.asks) == 0 {
		return 0, false
	}
	return m.asks[0].Price - m.bids[0].Price, true
}

// SpreadPercent returns the spread as a fraction of the mid price.
func (m *Mirror) SpreadPercent() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bids) == 0 || len(m.asks) == 0 {
		return 0, false
	}
	mid := (m.bids[0].Price + m.asks[0].Price) / 2
	if mid == 0 {
		return 0, false
	}
	return (m.asks[0].Price - m.bids[0].Price) / mid, true
}

// Top returns the condensed top-of-book view for monitoring.
func (m *Mirror) Top() (domain.BookTop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.primed || len(m.bids) == 0 || len(m.asks) == 0 {
		return domain.BookTop{}, false
	}
	bb, ba := m.bids[0].Price, m.asks[0].Price
	return domain.BookTop{
		Symbol:       m.symbol,
		BestBid:      bb,
		BestAsk:      ba,
		MidPrice:     (bb + ba) / 2,
		Spread:       ba - bb,
		LastUpdateID: m.lastUpdateID,
		Timestamp:    m.observedAt,
	}, true
}

func cloneLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
