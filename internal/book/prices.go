package book

import (
	"fmt"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// EntryPrice returns the passive entry price for dir at the given 1-indexed
// depth rank: a bid level inside the book for LONG (expecting a passive fill
// below the touch), the symmetric ask level for SHORT.
func (m *Mirror) EntryPrice(dir domain.Direction, level int) (float64, error) {
	var (
		lvl domain.PriceLevel
		ok  bool
	)
	if dir == domain.DirectionLong {
		lvl, ok = m.BidAtLevel(level)
	} else {
		lvl, ok = m.AskAtLevel(level)
	}
	if !ok {
		return 0, fmt.Errorf("book: entry level %d for %s: %w", level, dir, domain.ErrNoDepth)
	}
	return lvl.Price, nil
}

// TakeProfitPrice returns the take-profit price for dir: a deep ask level
// above entry for LONG, a deep bid level below entry for SHORT.
func (m *Mirror) TakeProfitPrice(dir domain.Direction, level int) (float64, error) {
	var (
		lvl domain.PriceLevel
		ok  bool
	)
	if dir == domain.DirectionLong {
		lvl, ok = m.AskAtLevel(level)
	} else {
		lvl, ok = m.BidAtLevel(level)
	}
	if !ok {
		return 0, fmt.Errorf("book: take-profit level %d for %s: %w", level, dir, domain.ErrNoDepth)
	}
	return lvl.Price, nil
}

// StopLossPrice returns the stop trigger price for dir: a bid level between
// best bid and the take-profit distance for LONG, the symmetric ask level for
// SHORT.
func (m *Mirror) StopLossPrice(dir domain.Direction, level int) (float64, error) {
	var (
		lvl domain.PriceLevel
		ok  bool
	)
	if dir == domain.DirectionLong {
		lvl, ok = m.BidAtLevel(level)
	} else {
		lvl, ok = m.AskAtLevel(level)
	}
	if !ok {
		return 0, fmt.Errorf("book: stop-loss level %d for %s: %w", level, dir, domain.ErrNoDepth)
	}
	return lvl.Price, nil
}

// ValidateBracket checks the bracket ordering invariant before any order is
// placed: tp > entry > sl for LONG and tp < entry < sl for SHORT. A failing
// check must abort placement; an inverted bracket is never submitted.
func ValidateBracket(dir domain.Direction, entry, tp, sl float64) error {
	switch dir {
	case domain.DirectionLong:
		if tp <= entry || sl >= entry {
			return fmt.Errorf("book: LONG bracket entry=%v tp=%v sl=%v: %w", entry, tp, sl, domain.ErrInvalidBracket)
		}
	case domain.DirectionShort:
		if tp >= entry || sl <= entry {
			return fmt.Errorf("book: SHORT bracket entry=%v tp=%v sl=%v: %w", entry, tp, sl, domain.ErrInvalidBracket)
		}
	default:
		return fmt.Errorf("book: unknown direction %q", dir)
	}
	return nil
}
