package trading

import (
	"sync"
	"time"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// Stats tracks win/loss totals, the directional bias, and a bounded
// most-recent-N trade history. The owning orchestrator is the only writer;
// the HTTP status surface reads through Snapshot.
type Stats struct {
	mu sync.Mutex

	bias          domain.DirectionBias
	flipThreshold int

	totalWins     int
	totalLosses   int
	totalTimeouts int
	totalNetPnL   float64

	history      []domain.TradeRecord
	historyLimit int
}

// StatsSnapshot is a copy of the counters for read-only consumers.
type StatsSnapshot struct {
	Direction         domain.Direction
	ConsecutiveLosses int
	TotalWins         int
	TotalLosses       int
	TotalTimeouts     int
	TotalNetPnL       float64
	Trades            int
}

// NewStats creates stats starting from the given bias direction. historyLimit
// bounds the retained trade records.
func NewStats(start domain.Direction, flipThreshold, historyLimit int) *Stats {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Stats{
		bias:          domain.DirectionBias{Direction: start},
		flipThreshold: flipThreshold,
		historyLimit:  historyLimit,
	}
}

// Direction returns the current bias direction.
func (s *Stats) Direction() domain.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bias.Direction
}

// RecordTrade folds a completed trade into the counters, advances the bias,
// and appends to the bounded history. Returns true when the bias flipped.
func (s *Stats) RecordTrade(rec domain.TradeRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalNetPnL += rec.NetPnL
	s.history = append(s.history, rec)
	if overflow := len(s.history) - s.historyLimit; overflow > 0 {
		s.history = append([]domain.TradeRecord(nil), s.history[overflow:]...)
	}

	switch rec.Result {
	case domain.TradeResultWin:
		s.totalWins++
		s.bias.RecordWin()
		return false
	case domain.TradeResultLoss:
		s.totalLosses++
		return s.bias.RecordLoss(s.flipThreshold)
	default:
		s.totalTimeouts++
		// Timeouts with negative P&L count toward the loss streak; flat or
		// positive forced closes do not.
		if rec.NetPnL < 0 {
			return s.bias.RecordLoss(s.flipThreshold)
		}
		return false
	}
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Direction:         s.bias.Direction,
		ConsecutiveLosses: s.bias.ConsecutiveLosses,
		TotalWins:         s.totalWins,
		TotalLosses:       s.totalLosses,
		TotalTimeouts:     s.totalTimeouts,
		TotalNetPnL:       s.totalNetPnL,
		Trades:            s.totalWins + s.totalLosses + s.totalTimeouts,
	}
}

// RecentTrades returns up to limit most recent trade records, newest first.
func (s *Stats) RecentTrades(limit int) []domain.TradeRecord {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// RiskState is the market-making variant's running risk bookkeeping: daily
// P&L, the trading-day marker, the circuit-breaker flag, and the
// position-reduction sub-state. Reset at each new trading day or on explicit
// resume.
type RiskState struct {
	DailyPnL          float64
	TradingDay        string // local date, YYYY-MM-DD
	ConsecutiveLosses int
	CircuitBroken     bool

	ReductionActive     bool
	ReductionStartPrice float64
	ReductionStartSize  float64
	ReduceOrder         *domain.TrackedOrder
}

// RolloverIfNewDay resets the daily counters when the local date has
// changed. Returns true on rollover.
func (r *RiskState) RolloverIfNewDay(now time.Time) bool {
	day := now.Format("2006-01-02")
	if day == r.TradingDay {
		return false
	}
	r.TradingDay = day
	r.DailyPnL = 0
	r.ConsecutiveLosses = 0
	r.CircuitBroken = false
	return true
}

// RecordResult folds one realized trade result into the daily counters.
func (r *RiskState) RecordResult(netPnL float64) {
	r.DailyPnL += netPnL
	if netPnL < 0 {
		r.ConsecutiveLosses++
	} else {
		r.ConsecutiveLosses = 0
	}
}
