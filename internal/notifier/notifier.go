// Package notifier is the outbound messaging boundary. The state machine
// calls Send and moves on: a failed send is logged, never blocks a state
// transition, and is retried by the notifier itself.
package notifier

import "context"

// Notifier delivers one notification kind to one recipient. Implementations
// own their retry behavior.
type Notifier interface {
	Send(ctx context.Context, kind, recipient string, data map[string]string) error
}
