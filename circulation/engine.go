/*
engine.go - Checkout / Return / Extend

ATOMICITY:
  The dangerous moment is two concurrent checkouts of the same item. The
  engine claims the item with a single conditional flip
  (available -> borrowed via catalog.Store.SetStatusIf); exactly one caller
  wins, the loser gets ErrConflict. The loan row is only inserted after the
  claim, so two active loans can never reference one item. If the insert
  itself fails, the claim is released before the error is returned.

  Return uses the same pattern in reverse: the loan row is closed with a
  conditional write (only while still open), then the item is released with
  a conditional flip borrowed -> available. The release deliberately ignores
  a status conflict: a direct edit may have marked the item damaged or lost
  while it was out, and that edit wins.

POLICY:
  The loan policy (default/allowed periods, extension increment) is loaded
  from the settings provider at the start of each Checkout and Extend call.
  It is not cached, so a policy change applies to the next operation without
  touching existing loans.

CLOCK:
  All "now" decisions go through the engine's clock so tests can pin time.
*/
package circulation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	loans    LoanStore
	items    catalog.Store
	patrons  patron.Store
	settings settings.Provider
	sink     Sink
	now      func() time.Time
}

func NewEngine(loans LoanStore, items catalog.Store, patrons patron.Store, provider settings.Provider) *Engine {
	return &Engine{
		loans:    loans,
		items:    items,
		patrons:  patrons,
		settings: provider,
		now:      time.Now,
	}
}

// SetSink attaches an event sink (audit trail). Optional.
func (e *Engine) SetSink(s Sink) { e.sink = s }

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.sink == nil {
		return
	}
	// A failing sink must not fail the transition that already happened.
	_ = e.sink.Record(ctx, ev)
}

// =============================================================================
// CHECKOUT
// =============================================================================

type CheckoutRequest struct {
	PatronID string
	ItemID   string
	DueDays  int // 0 means the policy default
	Notes    string
}

// Checkout creates a new active loan and flips the item to borrowed.
//
// Preconditions: patron exists and is active (and under their borrowing
// limit, if set); item exists and is available; the period is drawn from the
// policy's allowed set. Either the loan is created and the item flipped, or
// neither happens.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (Loan, error) {
	now := e.now()

	policy, err := settings.LoadLoanPolicy(ctx, e.settings)
	if err != nil {
		return Loan{}, err
	}

	days := req.DueDays
	if days == 0 {
		days = policy.DefaultLoanDays
	}
	if !policy.Allows(days) {
		return Loan{}, &InvalidPeriodError{Days: days, Allowed: policy.AllowedLoanDays}
	}

	p, err := e.patrons.Get(ctx, req.PatronID)
	if errors.Is(err, patron.ErrNotFound) {
		return Loan{}, &NotEligibleError{PatronID: req.PatronID}
	}
	if err != nil {
		return Loan{}, err
	}
	if p.Status != patron.StatusActive {
		return Loan{}, &NotEligibleError{PatronID: p.ID, Status: p.Status}
	}
	if p.BorrowLimit > 0 {
		active, err := e.loans.CountActiveForPatron(ctx, p.ID)
		if err != nil {
			return Loan{}, err
		}
		if active >= p.BorrowLimit {
			return Loan{}, &NotEligibleError{PatronID: p.ID, Status: p.Status, Limit: p.BorrowLimit, Active: active}
		}
	}

	item, err := e.items.Get(ctx, req.ItemID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Loan{}, &NotAvailableError{ItemID: req.ItemID}
	}
	if err != nil {
		return Loan{}, err
	}
	if item.Status != catalog.StatusAvailable {
		return Loan{}, &NotAvailableError{ItemID: item.ID, Status: item.Status}
	}

	// Claim the item. This conditional flip is the linearization point: of
	// two concurrent checkouts, exactly one passes.
	if err := e.items.SetStatusIf(ctx, item.ID, catalog.StatusAvailable, catalog.StatusBorrowed); err != nil {
		switch {
		case errors.Is(err, catalog.ErrStatusConflict):
			return Loan{}, &ConflictError{ItemID: item.ID}
		case errors.Is(err, catalog.ErrNotFound):
			// Deleted between the availability read and the claim.
			return Loan{}, &NotAvailableError{ItemID: item.ID}
		}
		return Loan{}, err
	}

	code, err := settings.NextLoanCode(ctx, e.settings, now)
	if err != nil {
		e.release(ctx, item.ID)
		return Loan{}, err
	}

	loan := Loan{
		ID:           uuid.NewString(),
		Code:         code,
		ItemID:       item.ID,
		PatronID:     p.ID,
		CheckoutDate: now,
		DueDate:      now.AddDate(0, 0, days),
		Status:       StatusActive,
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.loans.Create(ctx, loan); err != nil {
		e.release(ctx, item.ID)
		return Loan{}, err
	}

	e.emit(ctx, Event{
		Type:     EventCheckout,
		At:       now,
		Loan:     loan,
		PatronID: p.ID,
		ItemID:   item.ID,
		New: map[string]string{
			"status":   string(StatusActive),
			"due_date": loan.DueDate.Format(time.RFC3339),
		},
	})
	return loan, nil
}

// release undoes a claim after a failed checkout. Conditional, so it cannot
// clobber a concurrent edit.
func (e *Engine) release(ctx context.Context, itemID string) {
	_ = e.items.SetStatusIf(ctx, itemID, catalog.StatusBorrowed, catalog.StatusAvailable)
}

// =============================================================================
// RETURN
// =============================================================================

// Return closes an open loan and releases the item back to available.
//
// Returning an already-returned loan fails with ErrLoanAlreadyReturned; the
// item status is not toggled twice. If a direct edit marked the item damaged
// or lost while it was out, that status is left alone.
func (e *Engine) Return(ctx context.Context, loanID string, note string) (Loan, error) {
	now := e.now()

	loan, err := e.loans.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if !loan.Active() {
		return Loan{}, &AlreadyReturnedError{LoanID: loan.ID, ReturnedAt: *loan.ReturnDate}
	}

	closed, err := e.loans.Close(ctx, loan.ID, now, note)
	if errors.Is(err, ErrLoanNotActive) {
		// Lost the race to a concurrent return.
		return Loan{}, &AlreadyReturnedError{LoanID: loan.ID, ReturnedAt: now}
	}
	if err != nil {
		return Loan{}, err
	}

	if err := e.items.SetStatusIf(ctx, loan.ItemID, catalog.StatusBorrowed, catalog.StatusAvailable); err != nil {
		if !errors.Is(err, catalog.ErrStatusConflict) {
			return Loan{}, err
		}
		// Item was edited to damaged/lost while out; the edit wins.
	}

	e.emit(ctx, Event{
		Type:     EventReturn,
		At:       now,
		Loan:     closed,
		PatronID: closed.PatronID,
		ItemID:   closed.ItemID,
		Old:      map[string]string{"status": string(StatusActive)},
		New: map[string]string{
			"status":      string(StatusReturned),
			"return_date": now.Format(time.RFC3339),
		},
	})
	return closed, nil
}

// =============================================================================
// EXTEND
// =============================================================================

// Extend pushes the due date of an active loan forward. Zero additionalDays
// means the policy's extension increment. No cap on the number of
// extensions is enforced.
func (e *Engine) Extend(ctx context.Context, loanID string, additionalDays int) (Loan, error) {
	now := e.now()

	policy, err := settings.LoadLoanPolicy(ctx, e.settings)
	if err != nil {
		return Loan{}, err
	}
	days := additionalDays
	if days == 0 {
		days = policy.ExtensionDays
	}
	// The allowed-period set governs checkouts, not extensions, so it is
	// not echoed here.
	if days < 0 {
		return Loan{}, &InvalidPeriodError{Days: days}
	}

	loan, err := e.loans.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if !loan.Active() {
		return Loan{}, ErrLoanNotActive
	}

	extended, err := e.loans.ExtendDue(ctx, loan.ID, loan.DueDate.AddDate(0, 0, days))
	if err != nil {
		return Loan{}, err
	}

	e.emit(ctx, Event{
		Type:     EventExtend,
		At:       now,
		Loan:     extended,
		PatronID: extended.PatronID,
		ItemID:   extended.ItemID,
		Old:      map[string]string{"due_date": loan.DueDate.Format(time.RFC3339)},
		New:      map[string]string{"due_date": extended.DueDate.Format(time.RFC3339)},
	})
	return extended, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a single loan by ID.
func (e *Engine) Get(ctx context.Context, loanID string) (Loan, error) {
	return e.loans.Get(ctx, loanID)
}

// GetByCode returns a single loan by its human-readable code.
func (e *Engine) GetByCode(ctx context.Context, code string) (Loan, error) {
	return e.loans.GetByCode(ctx, code)
}

// List returns loans in recency order. A filter on the derived overdue
// status is resolved here against the engine's clock; stores never see it.
func (e *Engine) List(ctx context.Context, f Filter) ([]Loan, error) {
	return e.loans.List(ctx, e.resolveFilter(f))
}

// Count counts loans matching the filter, resolving overdue the same way
// List does.
func (e *Engine) Count(ctx context.Context, f Filter) (int, error) {
	return e.loans.Count(ctx, e.resolveFilter(f))
}

// ListOverdue returns open loans past their due date, most overdue first.
func (e *Engine) ListOverdue(ctx context.Context) ([]Loan, error) {
	status := StatusOverdue
	loans, err := e.List(ctx, Filter{Status: &status})
	if err != nil {
		return nil, err
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].DueDate.Before(loans[j].DueDate) })
	return loans, nil
}

func (e *Engine) resolveFilter(f Filter) Filter {
	if f.Status != nil && *f.Status == StatusOverdue {
		now := e.now()
		active := StatusActive
		f.Status = &active
		f.DueBefore = &now
	}
	return f
}
