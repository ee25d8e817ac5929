package domain

import (
	"context"
	"time"
)

// EventType labels a telemetry event.
type EventType string

const (
	EventCycleStarted     EventType = "cycle_started"
	EventEntryPlaced      EventType = "entry_placed"
	EventEntryFilled      EventType = "entry_filled"
	EventEntryNotFilled   EventType = "entry_not_filled"
	EventBracketPlaced    EventType = "bracket_placed"
	EventTradeResolved    EventType = "trade_resolved"
	EventBiasFlipped      EventType = "bias_flipped"
	EventOrderCanceled    EventType = "order_canceled"
	EventForcedClose      EventType = "forced_close"
	EventCircuitTripped   EventType = "circuit_tripped"
	EventTradingPaused    EventType = "trading_paused"
	EventTradingResumed   EventType = "trading_resumed"
	EventReductionStarted EventType = "reduction_started"
	EventError            EventType = "error"
)

// Event is one structured telemetry record emitted for every state
// transition and order action. Events are observational: publishing is never
// on the decision-making critical path and publish failures must never abort
// trading logic.
type Event struct {
	ID     string
	Type   EventType
	Symbol string
	At     time.Time
	Fields map[string]string
}

// EventPublisher receives telemetry events. Implementations must be
// non-blocking or internally buffered; the orchestrator fires and forgets.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSink persists or forwards events read back off the bus (dashboard,
// alerting). Separate from EventPublisher so the core never depends on who
// is listening.
type EventSink interface {
	Consume(ctx context.Context, handler func(Event)) error
}
