// Package bus carries the fire-and-forget ingestion signals between the
// tick feed and the cache refresh listener. Delivery is at-least-once with
// no ordering guarantee; subscribers must re-derive everything they need
// from current persisted state.
package bus

import "context"

// SignalPricesUpdated is published after new ticks are persisted. It has no
// payload beyond the trigger itself.
const SignalPricesUpdated = "prices.updated"

// Publisher emits signals.
type Publisher interface {
	Publish(ctx context.Context, signal string) error
}

// Subscriber delivers signals. The returned channel is closed when the
// subscription ends (context cancellation or transport shutdown). Deliveries
// may coalesce: a subscriber that is slow to drain sees at least one
// notification for any burst, which is sufficient for idempotent handlers.
type Subscriber interface {
	Subscribe(ctx context.Context, signal string) (<-chan struct{}, error)
}
