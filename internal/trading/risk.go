// Package trading contains the trade-cycle and market-making orchestrators
// plus the pure risk-decision functions both consume. The orchestrators own
// every mutable counter; the functions here are stateless given their inputs.
package trading

import (
	"math"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// FeeRates are the venue's fee fractions per leg. A passive (maker) leg and
// an aggressive (taker) leg are charged differently.
type FeeRates struct {
	Maker float64
	Taker float64
}

// IsWithinRange reports whether current lies within pct (a fraction, e.g.
// 0.02 for 2%) of anchor.
func IsWithinRange(current, anchor, pct float64) bool {
	if anchor == 0 {
		return false
	}
	return math.Abs(current-anchor)/math.Abs(anchor) <= pct
}

// NetPnL computes the gross, fee, and net P&L of one completed round-trip.
// entryRate and exitRate are the fee fractions of the respective legs
// (maker or taker depending on how each leg executed).
func NetPnL(entry, exit, qty float64, dir domain.Direction, entryRate, exitRate float64) (gross, fees, net float64) {
	if dir == domain.DirectionLong {
		gross = (exit - entry) * qty
	} else {
		gross = (entry - exit) * qty
	}
	fees = entry*qty*entryRate + exit*qty*exitRate
	net = gross - fees
	return gross, fees, net
}

// CircuitShouldTrip reports whether trading must halt for the rest of the
// trading day: cumulative daily net loss exceeding lossLimitPct of the
// balance estimate, or consecutive losses reaching maxConsecutive.
func CircuitShouldTrip(dailyPnL, balanceEstimate, lossLimitPct float64, consecutiveLosses, maxConsecutive int) bool {
	if maxConsecutive > 0 && consecutiveLosses >= maxConsecutive {
		return true
	}
	if dailyPnL < 0 && balanceEstimate > 0 && lossLimitPct > 0 {
		if -dailyPnL/balanceEstimate > lossLimitPct {
			return true
		}
	}
	return false
}
