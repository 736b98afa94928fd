package circulation

import (
	"context"
	"time"
)

// =============================================================================
// TRANSITION EVENTS - the audit hook
// =============================================================================
// The engine emits an Event on every state transition instead of writing an
// audit log itself. The audit package subscribes via Sink; other consumers
// (notifications, metrics) can wrap or replace it.

type EventType string

const (
	EventCheckout EventType = "checkout"
	EventReturn   EventType = "return"
	EventExtend   EventType = "extend"
)

// Event describes one completed loan transition. Old and New hold the
// changed fields as strings, matching what the audit trail records.
type Event struct {
	Type     EventType
	At       time.Time
	Loan     Loan
	PatronID string
	ItemID   string
	Old      map[string]string
	New      map[string]string
}

// Sink receives loan transition events. A sink error never fails the
// operation that produced the event; the engine drops it.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }
