package book

import (
	"errors"
	"testing"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

func levels(prices ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(prices))
	for i, p := range prices {
		out[i] = domain.PriceLevel{Price: p, Quantity: 1}
	}
	return out
}

func primedMirror(t *testing.T) *Mirror {
	t.Helper()
	m := NewMirror("BTCUSDT")
	m.ApplySnapshot(
		[]domain.PriceLevel{{Price: 100000, Quantity: 1}, {Price: 99999, Quantity: 2}, {Price: 99998, Quantity: 1.5}},
		[]domain.PriceLevel{{Price: 100001, Quantity: 1}, {Price: 100002, Quantity: 2}, {Price: 100003, Quantity: 1.5}},
		12345,
	)
	return m
}

func TestApplySnapshotPrimesBook(t *testing.T) {
	m := NewMirror("BTCUSDT")
	if m.HasData() {
		t.Fatal("empty mirror should not report data")
	}

	m = primedMirror(t)
	if !m.HasData() {
		t.Fatal("mirror should have data after snapshot")
	}
	if got := m.LastUpdateID(); got != 12345 {
		t.Errorf("LastUpdateID = %d, want 12345", got)
	}
	bb, ok := m.BestBid()
	if !ok || bb.Price != 100000 {
		t.Errorf("BestBid = %v %v, want 100000", bb.Price, ok)
	}
	ba, ok := m.BestAsk()
	if !ok || ba.Price != 100001 {
		t.Errorf("BestAsk = %v %v, want 100001", ba.Price, ok)
	}
	if bb.Price >= ba.Price {
		t.Errorf("BestBid %v must be below BestAsk %v", bb.Price, ba.Price)
	}
}

func TestApplyDiffRejectsStaleUpdates(t *testing.T) {
	m := primedMirror(t)

	for _, id := range []int64{12344, 12345} {
		if applied := m.ApplyDiff(levels(99000), levels(99001), id); applied {
			t.Errorf("ApplyDiff with finalUpdateID=%d should be a no-op", id)
		}
		bb, _ := m.BestBid()
		ba, _ := m.BestAsk()
		if bb.Price != 100000 || ba.Price != 100001 {
			t.Fatalf("stale diff mutated book: bid=%v ask=%v", bb.Price, ba.Price)
		}
	}
	if got := m.LastUpdateID(); got != 12345 {
		t.Errorf("LastUpdateID moved to %d on stale diff", got)
	}
}

func TestApplyDiffAcceptsNewerUpdates(t *testing.T) {
	m := primedMirror(t)

	if applied := m.ApplyDiff(levels(100005, 100004), levels(100006, 100007), 12350); !applied {
		t.Fatal("newer diff should be applied")
	}
	bb, _ := m.BestBid()
	ba, _ := m.BestAsk()
	if bb.Price != 100005 || ba.Price != 100006 {
		t.Errorf("book after diff: bid=%v ask=%v, want 100005/100006", bb.Price, ba.Price)
	}
	if got := m.LastUpdateID(); got != 12350 {
		t.Errorf("LastUpdateID = %d, want 12350", got)
	}
}

func TestApplyDiffWithoutSnapshotIsNoOp(t *testing.T) {
	m := NewMirror("BTCUSDT")
	if applied := m.ApplyDiff(levels(100), levels(101), 1); applied {
		t.Error("diff before any snapshot should be discarded")
	}
}

func TestLevelLookups(t *testing.T) {
	m := primedMirror(t)

	lvl, ok := m.BidAtLevel(2)
	if !ok || lvl.Price != 99999 {
		t.Errorf("BidAtLevel(2) = %v %v, want 99999", lvl.Price, ok)
	}
	lvl, ok = m.AskAtLevel(3)
	if !ok || lvl.Price != 100003 {
		t.Errorf("AskAtLevel(3) = %v %v, want 100003", lvl.Price, ok)
	}
	if _, ok := m.BidAtLevel(4); ok {
		t.Error("BidAtLevel beyond depth should report !ok")
	}
	if _, ok := m.BidAtLevel(0); ok {
		t.Error("BidAtLevel(0) should report !ok, levels are 1-indexed")
	}
}

func TestDerivedPrices(t *testing.T) {
	m := primedMirror(t)

	mid, ok := m.MidPrice()
	if !ok || mid != 100000.5 {
		t.Errorf("MidPrice = %v %v, want 100000.5", mid, ok)
	}
	spread, ok := m.Spread()
	if !ok || spread != 1 {
		t.Errorf("Spread = %v %v, want 1", spread, ok)
	}
	pct, ok := m.SpreadPercent()
	if !ok || pct != 1/100000.5 {
		t.Errorf("SpreadPercent = %v %v, want %v", pct, ok, 1/100000.5)
	}
}

func TestEntryPriceScenario(t *testing.T) {
	m := primedMirror(t)

	got, err := m.EntryPrice(domain.DirectionLong, 2)
	if err != nil || got != 99999 {
		t.Errorf("EntryPrice(LONG, 2) = %v, %v; want 99999", got, err)
	}
	got, err = m.EntryPrice(domain.DirectionShort, 2)
	if err != nil || got != 100002 {
		t.Errorf("EntryPrice(SHORT, 2) = %v, %v; want 100002", got, err)
	}
	if _, err := m.EntryPrice(domain.DirectionLong, 9); !errors.Is(err, domain.ErrNoDepth) {
		t.Errorf("EntryPrice beyond depth: err = %v, want ErrNoDepth", err)
	}
}

func TestBracketPricesScenario(t *testing.T) {
	// 10-level book: bids 100000..99991, asks 100001..100010.
	bids := make([]domain.PriceLevel, 10)
	asks := make([]domain.PriceLevel, 10)
	for i := 0; i < 10; i++ {
		bids[i] = domain.PriceLevel{Price: float64(100000 - i), Quantity: 1}
		asks[i] = domain.PriceLevel{Price: float64(100001 + i), Quantity: 1}
	}
	m := NewMirror("BTCUSDT")
	m.ApplySnapshot(bids, asks, 1)

	tp, err := m.TakeProfitPrice(domain.DirectionLong, 10)
	if err != nil || tp != 100010 {
		t.Errorf("TakeProfitPrice(LONG, 10) = %v, %v; want 100010", tp, err)
	}
	sl, err := m.StopLossPrice(domain.DirectionLong, 8)
	if err != nil || sl != 99993 {
		t.Errorf("StopLossPrice(LONG, 8) = %v, %v; want 99993", sl, err)
	}
	tp, err = m.TakeProfitPrice(domain.DirectionShort, 10)
	if err != nil || tp != 99991 {
		t.Errorf("TakeProfitPrice(SHORT, 10) = %v, %v; want 99991", tp, err)
	}
}

func TestValidateBracket(t *testing.T) {
	tests := []struct {
		name    string
		dir     domain.Direction
		entry   float64
		tp      float64
		sl      float64
		wantErr bool
	}{
		{"long valid", domain.DirectionLong, 50000, 50100, 49950, false},
		{"long tp below entry", domain.DirectionLong, 50000, 49900, 49950, true},
		{"long tp equals entry", domain.DirectionLong, 50000, 50000, 49950, true},
		{"long sl above entry", domain.DirectionLong, 50000, 50100, 50050, true},
		{"long sl equals entry", domain.DirectionLong, 50000, 50100, 50000, true},
		{"short valid", domain.DirectionShort, 50000, 49900, 50050, false},
		{"short tp above entry", domain.DirectionShort, 50000, 50100, 50050, true},
		{"short sl below entry", domain.DirectionShort, 50000, 49900, 49950, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBracket(tt.dir, tt.entry, tt.tp, tt.sl)
			if tt.wantErr && !errors.Is(err, domain.ErrInvalidBracket) {
				t.Errorf("ValidateBracket = %v, want ErrInvalidBracket", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateBracket = %v, want nil", err)
			}
		})
	}
}

func TestApplySnapshotCopiesInput(t *testing.T) {
	bids := levels(100, 99)
	asks := levels(101, 102)
	m := NewMirror("BTCUSDT")
	m.ApplySnapshot(bids, asks, 1)

	bids[0].Price = 42
	bb, _ := m.BestBid()
	if bb.Price != 100 {
		t.Error("mirror must not alias caller slices")
	}
}
