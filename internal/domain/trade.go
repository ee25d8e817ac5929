package domain

import "time"

// Direction is the directional bias of a trade cycle.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() Side {
	if d == DirectionLong {
		return SideBuy
	}
	return SideSell
}

// ExitSide returns the order side that closes a position in this direction.
func (d Direction) ExitSide() Side {
	return d.EntrySide().Opposite()
}

// TradeResult classifies a completed round-trip.
type TradeResult string

const (
	TradeResultWin     TradeResult = "WIN"
	TradeResultLoss    TradeResult = "LOSS"
	TradeResultTimeout TradeResult = "TIMEOUT"
)

// TradeRecord is one completed round-trip. It is created when the entry
// fills and finalized when the exit order reaches a terminal state or a
// forced close occurs. Records are observational only; the venue's own
// position and trade history remain ground truth.
type TradeRecord struct {
	ID         string
	Symbol     string
	Direction  Direction
	EntryTime  time.Time
	EntryPrice float64
	Quantity   float64
	TakeProfit float64
	StopLoss   float64
	ExitTime   time.Time
	ExitPrice  float64
	Result     TradeResult
	GrossPnL   float64
	Fees       float64
	NetPnL     float64
}

// DirectionBias carries the current directional bias plus the consecutive
// loss counter that drives the flip. Mutated only by the owning orchestrator
// after a completed trade.
type DirectionBias struct {
	Direction         Direction
	ConsecutiveLosses int
}

// RecordLoss increments the loss counter and flips the bias when the counter
// reaches threshold, resetting it to zero. Returns true when a flip occurred.
func (b *DirectionBias) RecordLoss(threshold int) bool {
	b.ConsecutiveLosses++
	if threshold > 0 && b.ConsecutiveLosses >= threshold {
		b.Direction = b.Direction.Flip()
		b.ConsecutiveLosses = 0
		return true
	}
	return false
}

// RecordWin resets the consecutive loss counter.
func (b *DirectionBias) RecordWin() {
	b.ConsecutiveLosses = 0
}
