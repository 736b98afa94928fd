/*
Package audit records loan transitions for later review.

The circulation engine does not know this package exists: it emits events,
and Recorder (a circulation.Sink) turns them into append-only log entries.
Entries carry old/new value payloads so "what changed" is answerable without
replaying anything.

The log is append-only. There is no update or delete on entries.
*/
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helmecke/minibiblio/circulation"
)

// =============================================================================
// ENTRIES
// =============================================================================

type Entry struct {
	ID          string
	At          time.Time
	Action      string // checkout, return, extend
	LoanID      string
	LoanCode    string
	PatronID    string
	ItemID      string
	Description string
	OldValues   map[string]string
	NewValues   map[string]string
	Actor       string
}

// Filter narrows Query. Zero value matches everything.
type Filter struct {
	LoanID   string
	PatronID string
	ItemID   string
	Action   string
	From     *time.Time
	To       *time.Time
}

// Log stores audit entries, append-only.
type Log interface {
	Append(ctx context.Context, e Entry) error

	// Query returns entries newest first.
	Query(ctx context.Context, f Filter) ([]Entry, error)
}

// =============================================================================
// RECORDER - circulation.Sink implementation
// =============================================================================

// Recorder converts circulation events into audit entries.
type Recorder struct {
	log   Log
	actor string
}

// NewRecorder creates a recorder writing to log. Actor identifies who is
// operating the system; the single-operator deployments this serves use a
// fixed label.
func NewRecorder(log Log, actor string) *Recorder {
	if actor == "" {
		actor = "system"
	}
	return &Recorder{log: log, actor: actor}
}

var _ circulation.Sink = (*Recorder)(nil)

func (r *Recorder) Record(ctx context.Context, ev circulation.Event) error {
	return r.log.Append(ctx, Entry{
		ID:          uuid.NewString(),
		At:          ev.At,
		Action:      string(ev.Type),
		LoanID:      ev.Loan.ID,
		LoanCode:    ev.Loan.Code,
		PatronID:    ev.PatronID,
		ItemID:      ev.ItemID,
		Description: describe(ev),
		OldValues:   ev.Old,
		NewValues:   ev.New,
		Actor:       r.actor,
	})
}

func describe(ev circulation.Event) string {
	switch ev.Type {
	case circulation.EventCheckout:
		return fmt.Sprintf("Checked out item %s to patron %s (loan %s, due %s)",
			ev.ItemID, ev.PatronID, ev.Loan.Code, ev.Loan.DueDate.Format("2006-01-02"))
	case circulation.EventReturn:
		return fmt.Sprintf("Returned loan %s (item %s)", ev.Loan.Code, ev.ItemID)
	case circulation.EventExtend:
		return fmt.Sprintf("Extended loan %s to %s", ev.Loan.Code, ev.Loan.DueDate.Format("2006-01-02"))
	default:
		return fmt.Sprintf("Loan %s: %s", ev.Loan.Code, ev.Type)
	}
}
