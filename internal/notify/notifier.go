// Package notify pushes pipeline events to a user's live connections.
package notify

import "context"

// Notifier delivers an event to every live connection of a user. Delivery is
// best-effort: failures are logged by the implementation and never returned.
type Notifier interface {
	Emit(ctx context.Context, userID, event string, payload interface{})
}

// Nop discards every event.
type Nop struct{}

// Emit implements Notifier.
func (Nop) Emit(context.Context, string, string, interface{}) {}

// Message is the frame written to a connection.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
