package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// titles maps event types to alert headlines. Types not listed fall back to
// the raw type string.
var titles = map[domain.EventType]string{
	domain.EventEntryFilled:      "Entry filled",
	domain.EventBracketPlaced:    "Bracket placed",
	domain.EventTradeResolved:    "Trade resolved",
	domain.EventBiasFlipped:      "Direction flipped",
	domain.EventForcedClose:      "Position force-closed",
	domain.EventCircuitTripped:   "Circuit breaker tripped",
	domain.EventTradingPaused:    "Trading paused",
	domain.EventTradingResumed:   "Trading resumed",
	domain.EventReductionStarted: "Position reduction started",
	domain.EventError:            "Error",
}

// HandleEvent renders a telemetry event into an alert and delivers it if the
// event type passes the allowlist. Intended as the handler for an event sink
// subscription; delivery failures are logged by the notifier and not
// propagated back into the event loop.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.Event) {
	if !n.wants(ev.Type) {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(ev.Type)),
		)
		return
	}
	_ = n.deliver(ctx, renderAlert(ev))
}

func renderAlert(ev domain.Event) Alert {
	title, ok := titles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}
	if ev.Symbol != "" {
		title = fmt.Sprintf("%s [%s]", title, ev.Symbol)
	}
	return Alert{Title: title, Body: formatFields(ev.Fields)}
}

// formatFields renders event fields as sorted key: value lines so alerts are
// stable across deliveries.
func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", k, fields[k])
	}
	return b.String()
}
