/*
Package circulation is the loan engine: the checkout/return/extend state
machine and the consistency contract between loans, catalog items, and
patrons.

STATE MACHINE (Loan):

	[ ] --checkout--> ACTIVE --return--> RETURNED (terminal)
	      ACTIVE --extend--> ACTIVE (due date advanced)
	      ACTIVE --(read time, due date passed)--> reported as OVERDUE

"Overdue" is derived at read time by comparing the due date to the clock. It
is never persisted; the stored status of an overdue loan remains "active".
There is no transition out of RETURNED.

CONSISTENCY CONTRACT:
  An item referenced by an active loan has catalog status "borrowed"; on
  return it reverts to "available" unless a direct edit marked it damaged or
  lost in the meantime. The engine enforces this with a single conditional
  status flip (see engine.go), never with two independent writes.

Loans are never deleted. They are the system's circulation record, and every
transition additionally emits an Event for the audit log (events.go).
*/
package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LOAN
// =============================================================================

type Status string

const (
	StatusActive   Status = "active"
	StatusReturned Status = "returned"

	// StatusOverdue is derived, never stored. It appears in query output and
	// filters but the persisted status of an overdue loan is StatusActive.
	StatusOverdue Status = "overdue"
)

type Loan struct {
	ID       string
	Code     string // loan code ("LN-17/26"), unique
	ItemID   string
	PatronID string

	CheckoutDate time.Time
	DueDate      time.Time
	ReturnDate   *time.Time // nil while the loan is open
	Status       Status     // stored status: active or returned
	Notes        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the loan is still open (return date unset).
func (l Loan) Active() bool {
	return l.ReturnDate == nil
}

// StatusAt resolves the derived status at the given time. Returned loans are
// terminal; open loans past their due date report as overdue.
func (l Loan) StatusAt(now time.Time) Status {
	if !l.Active() {
		return StatusReturned
	}
	if l.DueDate.Before(now) {
		return StatusOverdue
	}
	return StatusActive
}

// OverdueDays returns how many whole days past due the loan is at now.
// Zero for returned loans and loans within their period.
func (l Loan) OverdueDays(now time.Time) int {
	if !l.Active() || !l.DueDate.Before(now) {
		return 0
	}
	days := int(now.Sub(l.DueDate).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days
}

// OverdueFee computes the accrued fee at the given per-day rate.
func (l Loan) OverdueFee(now time.Time, perDay decimal.Decimal) decimal.Decimal {
	return perDay.Mul(decimal.NewFromInt(int64(l.OverdueDays(now))))
}

// =============================================================================
// FILTER
// =============================================================================

// Filter narrows List/Count. The engine translates the derived overdue
// status into Status=active + DueBefore before the filter reaches a store;
// stores only ever see stored statuses.
type Filter struct {
	Status   *Status
	PatronID string
	ItemID   string
	Search   string // matches loan code, patron name/code, item title/code
	Year     int    // checkout year, 0 = any

	// DueBefore keeps only open loans due strictly before this instant.
	// Set by the engine when resolving the overdue filter.
	DueBefore *time.Time
}

// =============================================================================
// STORE
// =============================================================================

// LoanStore persists loans. List and Count see only stored statuses; the
// mutating methods are conditional so that concurrent Return/Extend calls
// serialize on the storage layer rather than racing.
type LoanStore interface {
	Create(ctx context.Context, l Loan) error
	Get(ctx context.Context, id string) (Loan, error)
	GetByCode(ctx context.Context, code string) (Loan, error)

	// List returns loans in recency order (checkout date descending).
	List(ctx context.Context, f Filter) ([]Loan, error)
	Count(ctx context.Context, f Filter) (int, error)

	// CountActiveForPatron counts open loans for borrowing-limit checks.
	// Computed on demand; there is no stored counter to drift.
	CountActiveForPatron(ctx context.Context, patronID string) (int, error)

	// Close sets the return date and status, only if the loan is still open.
	// Returns ErrLoanNotActive when another call closed it first.
	// A non-empty note is appended to the loan's notes.
	Close(ctx context.Context, id string, at time.Time, note string) (Loan, error)

	// ExtendDue moves the due date, only if the loan is still open.
	// Returns ErrLoanNotActive otherwise.
	ExtendDue(ctx context.Context, id string, due time.Time) (Loan, error)
}
