package trading

import (
	"math"
	"testing"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

func TestIsWithinRange(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		anchor  float64
		pct     float64
		want    bool
	}{
		{"at anchor", 50000, 50000, 0.02, true},
		{"inside band above", 50900, 50000, 0.02, true},
		{"inside band below", 49100, 50000, 0.02, true},
		{"exactly on band edge", 51000, 50000, 0.02, true},
		{"outside band above", 51001, 50000, 0.02, false},
		{"outside band below", 48999, 50000, 0.02, false},
		{"zero anchor", 50000, 0, 0.02, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithinRange(tt.current, tt.anchor, tt.pct); got != tt.want {
				t.Errorf("IsWithinRange(%v, %v, %v) = %v, want %v", tt.current, tt.anchor, tt.pct, got, tt.want)
			}
		})
	}
}

func TestNetPnL(t *testing.T) {
	const maker, taker = 0.0002, 0.0005

	t.Run("long winner", func(t *testing.T) {
		gross, fees, net := NetPnL(50000, 50100, 0.01, domain.DirectionLong, maker, maker)
		if !approxEqual(gross, 1.0) {
			t.Errorf("gross = %v, want 1.0", gross)
		}
		wantFees := 50000*0.01*maker + 50100*0.01*maker
		if !approxEqual(fees, wantFees) {
			t.Errorf("fees = %v, want %v", fees, wantFees)
		}
		if !approxEqual(net, gross-fees) {
			t.Errorf("net = %v, want %v", net, gross-fees)
		}
	})

	t.Run("short winner", func(t *testing.T) {
		gross, _, _ := NetPnL(50000, 49900, 0.01, domain.DirectionShort, maker, taker)
		if !approxEqual(gross, 1.0) {
			t.Errorf("gross = %v, want 1.0", gross)
		}
	})

	t.Run("long loser with taker exit", func(t *testing.T) {
		gross, fees, net := NetPnL(50000, 49950, 0.01, domain.DirectionLong, maker, taker)
		if !approxEqual(gross, -0.5) {
			t.Errorf("gross = %v, want -0.5", gross)
		}
		if net >= gross {
			t.Errorf("net %v should be below gross %v once fees %v apply", net, gross, fees)
		}
	})
}

func TestCircuitShouldTrip(t *testing.T) {
	tests := []struct {
		name           string
		dailyPnL       float64
		balance        float64
		lossLimitPct   float64
		losses         int
		maxConsecutive int
		want           bool
	}{
		{"loss over limit", -60, 1000, 0.05, 0, 5, true},
		{"loss under limit", -60, 1000, 0.10, 0, 5, false},
		{"loss exactly at limit", -50, 1000, 0.05, 0, 5, false},
		{"positive pnl never trips on loss limit", 60, 1000, 0.05, 0, 5, false},
		{"consecutive losses at max", -10, 1000, 0.05, 5, 5, true},
		{"consecutive losses under max", -10, 1000, 0.05, 4, 5, false},
		{"zero balance ignores loss limit", -60, 0, 0.05, 0, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CircuitShouldTrip(tt.dailyPnL, tt.balance, tt.lossLimitPct, tt.losses, tt.maxConsecutive)
			if got != tt.want {
				t.Errorf("CircuitShouldTrip(%v, %v, %v, %d, %d) = %v, want %v",
					tt.dailyPnL, tt.balance, tt.lossLimitPct, tt.losses, tt.maxConsecutive, got, tt.want)
			}
		})
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
