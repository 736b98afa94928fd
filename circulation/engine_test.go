package circulation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
	"github.com/helmecke/minibiblio/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*circulation.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	engine := circulation.NewEngine(store.Loans(), store.Catalog(), store.Patrons(), store.Settings())
	engine.SetClock(func() time.Time { return testNow })
	return engine, store
}

func seedItem(t *testing.T, store *memory.Store, id string) catalog.Item {
	t.Helper()
	item := catalog.Item{
		ID:        id,
		Code:      "1/25-" + id,
		Type:      catalog.TypeBook,
		Title:     "The Go Programming Language",
		Author:    "Donovan & Kernighan",
		Status:    catalog.StatusAvailable,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, store.Catalog().Create(context.Background(), item))
	return item
}

func seedPatron(t *testing.T, store *memory.Store, id string, status patron.Status) patron.Patron {
	t.Helper()
	p := patron.Patron{
		ID:        id,
		Code:      "LIB-" + id,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Status:    status,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, store.Patrons().Create(context.Background(), p))
	return p
}

func checkout(t *testing.T, engine *circulation.Engine, patronID, itemID string) circulation.Loan {
	t.Helper()
	loan, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: patronID,
		ItemID:   itemID,
	})
	require.NoError(t, err)
	return loan
}

// =============================================================================
// CHECKOUT
// =============================================================================

func TestCheckout_CreatesLoanAndBorrowsItem(t *testing.T) {
	// GIVEN: An available item and an active patron
	// WHEN: Checking out with the default period
	// THEN: Loan is active with due date now+14d and the item is borrowed

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	loan, err := engine.Checkout(ctx, circulation.CheckoutRequest{
		PatronID: p.ID,
		ItemID:   item.ID,
		Notes:    "summer reading",
	})
	require.NoError(t, err)

	assert.Equal(t, circulation.StatusActive, loan.Status)
	assert.Equal(t, testNow, loan.CheckoutDate)
	assert.Equal(t, testNow.AddDate(0, 0, 14), loan.DueDate)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, "LN-1/25", loan.Code)
	assert.Equal(t, "summer reading", loan.Notes)

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusBorrowed, got.Status)
}

func TestCheckout_CustomPeriod_FromAllowedSet(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	loan, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID,
		ItemID:   item.ID,
		DueDays:  21,
	})
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 21), loan.DueDate)
}

func TestCheckout_PeriodOutsideAllowedSet_Rejected(t *testing.T) {
	// GIVEN: The default allowed periods (7, 14, 21, 28)
	// WHEN: Requesting a 10 day loan
	// THEN: Rejected with InvalidPeriodError, nothing changed

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	_, err := engine.Checkout(ctx, circulation.CheckoutRequest{
		PatronID: p.ID,
		ItemID:   item.ID,
		DueDays:  10,
	})

	var perr *circulation.InvalidPeriodError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 10, perr.Days)
	assert.True(t, circulation.IsPreconditionFailed(err))

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, got.Status, "item must stay available")
}

func TestCheckout_ItemNotAvailable_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p1 := seedPatron(t, store, "pat-1", patron.StatusActive)
	p2 := seedPatron(t, store, "pat-2", patron.StatusActive)

	checkout(t, engine, p1.ID, item.ID)

	// Second checkout of the same item must fail and leave the first loan
	// untouched.
	_, err := engine.Checkout(ctx, circulation.CheckoutRequest{PatronID: p2.ID, ItemID: item.ID})
	var naerr *circulation.NotAvailableError
	require.ErrorAs(t, err, &naerr)
	assert.Equal(t, catalog.StatusBorrowed, naerr.Status)

	n, err := store.Loans().Count(ctx, circulation.Filter{ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckout_UnknownItem_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	_, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID,
		ItemID:   "nope",
	})
	assert.ErrorIs(t, err, circulation.ErrItemNotAvailable)
}

func TestCheckout_SuspendedPatron_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusSuspended)

	_, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID,
		ItemID:   item.ID,
	})

	var neerr *circulation.NotEligibleError
	require.ErrorAs(t, err, &neerr)
	assert.Equal(t, patron.StatusSuspended, neerr.Status)
}

func TestCheckout_BorrowLimitReached_Rejected(t *testing.T) {
	// GIVEN: A patron with a borrowing limit of 2 and two open loans
	// WHEN: Checking out a third item
	// THEN: Rejected as not eligible; returning one item unblocks them

	engine, store := newTestEngine(t)
	ctx := context.Background()
	p := patron.Patron{ID: "pat-1", Code: "LIB-1", FirstName: "Ada", LastName: "Lovelace",
		Status: patron.StatusActive, BorrowLimit: 2}
	require.NoError(t, store.Patrons().Create(ctx, p))

	first := seedItem(t, store, "item-1")
	seedItem(t, store, "item-2")
	third := seedItem(t, store, "item-3")

	loan1 := checkout(t, engine, p.ID, first.ID)
	checkout(t, engine, p.ID, "item-2")

	_, err := engine.Checkout(ctx, circulation.CheckoutRequest{PatronID: p.ID, ItemID: third.ID})
	var neerr *circulation.NotEligibleError
	require.ErrorAs(t, err, &neerr)
	assert.Equal(t, 2, neerr.Limit)
	assert.Equal(t, 2, neerr.Active)

	_, err = engine.Return(ctx, loan1.ID, "")
	require.NoError(t, err)

	_, err = engine.Checkout(ctx, circulation.CheckoutRequest{PatronID: p.ID, ItemID: third.ID})
	assert.NoError(t, err)
}

func TestCheckout_LoanCodesFollowSequence(t *testing.T) {
	engine, store := newTestEngine(t)
	seedItem(t, store, "item-1")
	seedItem(t, store, "item-2")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	l1 := checkout(t, engine, p.ID, "item-1")
	l2 := checkout(t, engine, p.ID, "item-2")

	assert.Equal(t, "LN-1/25", l1.Code)
	assert.Equal(t, "LN-2/25", l2.Code)
}

// interferingCatalog runs a configured hook once, right before the
// conditional status flip. It opens the window between the engine's
// availability read and its claim so the race can be reproduced on demand.
type interferingCatalog struct {
	catalog.Store
	beforeFlip func()
}

func (c *interferingCatalog) SetStatusIf(ctx context.Context, id string, from, to catalog.Status) error {
	if c.beforeFlip != nil {
		hook := c.beforeFlip
		c.beforeFlip = nil
		hook()
	}
	return c.Store.SetStatusIf(ctx, id, from, to)
}

func TestCheckout_ConcurrentSameItem_ExactlyOneWins(t *testing.T) {
	// GIVEN: One available item and two eligible patrons
	// WHEN: Both check it out concurrently
	// THEN: Exactly one loan is created; the loser gets a conflict or an
	//       availability failure, never a second loan

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	seedPatron(t, store, "pat-1", patron.StatusActive)
	seedPatron(t, store, "pat-2", patron.StatusActive)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, patronID := range []string{"pat-1", "pat-2"} {
		wg.Add(1)
		go func(patronID string) {
			defer wg.Done()
			_, err := engine.Checkout(ctx, circulation.CheckoutRequest{
				PatronID: patronID,
				ItemID:   item.ID,
			})
			errs <- err
		}(patronID)
	}
	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	require.Len(t, failed, 1, "exactly one checkout must win")
	lost := failed[0]
	assert.True(t,
		circulation.IsConflict(lost) || circulation.IsPreconditionFailed(lost),
		"loser must see a conflict or failed precondition, got: %v", lost)

	n, err := store.Loans().Count(ctx, circulation.Filter{ItemID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusBorrowed, got.Status)
}

func TestCheckout_ClaimLostToConcurrentEdit_Conflict(t *testing.T) {
	// GIVEN: An item flipped away after the engine read it as available
	// WHEN: The claim runs
	// THEN: ConflictError (retryable), and no loan exists

	store := memory.New()
	cat := &interferingCatalog{Store: store.Catalog()}
	engine := circulation.NewEngine(store.Loans(), cat, store.Patrons(), store.Settings())
	engine.SetClock(func() time.Time { return testNow })

	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	cat.beforeFlip = func() {
		_, err := store.Catalog().SetStatus(ctx, item.ID, catalog.StatusReserved)
		require.NoError(t, err)
	}

	_, err := engine.Checkout(ctx, circulation.CheckoutRequest{PatronID: p.ID, ItemID: item.ID})
	var cerr *circulation.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, item.ID, cerr.ItemID)
	assert.True(t, circulation.IsConflict(err))

	n, err := store.Loans().Count(ctx, circulation.Filter{ItemID: item.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckout_ItemDeletedBeforeClaim_NotAvailable(t *testing.T) {
	// An item vanishing between the availability read and the claim surfaces
	// as not-available, the same as an item that never existed.
	store := memory.New()
	cat := &interferingCatalog{Store: store.Catalog()}
	engine := circulation.NewEngine(store.Loans(), cat, store.Patrons(), store.Settings())
	engine.SetClock(func() time.Time { return testNow })

	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	cat.beforeFlip = func() {
		require.NoError(t, store.Catalog().Delete(ctx, item.ID))
	}

	_, err := engine.Checkout(ctx, circulation.CheckoutRequest{PatronID: p.ID, ItemID: item.ID})
	assert.ErrorIs(t, err, circulation.ErrItemNotAvailable)
	assert.True(t, circulation.IsPreconditionFailed(err))
}

func TestCheckout_PolicyChangeAppliesToNextLoan(t *testing.T) {
	// GIVEN: A completed checkout under the default 14 day policy
	// WHEN: The default period is changed to 7
	// THEN: The next checkout uses 7 days; the first loan keeps its due date

	engine, store := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, store, "item-1")
	seedItem(t, store, "item-2")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	l1 := checkout(t, engine, p.ID, "item-1")
	assert.Equal(t, testNow.AddDate(0, 0, 14), l1.DueDate)

	require.NoError(t, store.Settings().Set(ctx, settings.KeyDefaultLoanDays, "7"))

	l2 := checkout(t, engine, p.ID, "item-2")
	assert.Equal(t, testNow.AddDate(0, 0, 7), l2.DueDate)

	kept, err := engine.Get(ctx, l1.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 14), kept.DueDate)
}

// =============================================================================
// RETURN
// =============================================================================

func TestReturn_ClosesLoanAndReleasesItem(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	returned, err := engine.Return(ctx, loan.ID, "slightly worn cover")
	require.NoError(t, err)

	assert.Equal(t, circulation.StatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, testNow, *returned.ReturnDate)
	assert.Contains(t, returned.Notes, "slightly worn cover")

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, got.Status)
}

func TestReturn_Twice_Rejected(t *testing.T) {
	// GIVEN: A returned loan
	// WHEN: Returning it again
	// THEN: AlreadyReturnedError, and the item status is not toggled twice

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	_, err := engine.Return(ctx, loan.ID, "")
	require.NoError(t, err)

	_, err = engine.Return(ctx, loan.ID, "")
	var arerr *circulation.AlreadyReturnedError
	require.ErrorAs(t, err, &arerr)
	assert.Equal(t, loan.ID, arerr.LoanID)

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusAvailable, got.Status)
}

func TestReturn_DamagedEditWins(t *testing.T) {
	// GIVEN: An item marked damaged while it was out
	// WHEN: The loan is returned
	// THEN: The loan closes but the item stays damaged

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	_, err := store.Catalog().SetStatus(ctx, item.ID, catalog.StatusDamaged)
	require.NoError(t, err)

	returned, err := engine.Return(ctx, loan.ID, "")
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusReturned, returned.Status)

	got, err := store.Catalog().Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusDamaged, got.Status)
}

func TestReturn_SuspendedPatronMayStillReturn(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	p.Status = patron.StatusSuspended
	_, err := store.Patrons().Update(ctx, p)
	require.NoError(t, err)

	_, err = engine.Return(ctx, loan.ID, "")
	assert.NoError(t, err)
}

// =============================================================================
// EXTEND
// =============================================================================

func TestExtend_DefaultIncrement(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	extended, err := engine.Extend(context.Background(), loan.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, loan.DueDate.AddDate(0, 0, 14), extended.DueDate)
}

func TestExtend_CustomDays_AndRepeatable(t *testing.T) {
	// No cap on extensions: extending twice stacks.
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	first, err := engine.Extend(ctx, loan.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, loan.DueDate.AddDate(0, 0, 7), first.DueDate)

	second, err := engine.Extend(ctx, loan.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, loan.DueDate.AddDate(0, 0, 14), second.DueDate)
}

func TestExtend_ReturnedLoan_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	_, err := engine.Return(ctx, loan.ID, "")
	require.NoError(t, err)

	_, err = engine.Extend(ctx, loan.ID, 7)
	assert.ErrorIs(t, err, circulation.ErrLoanNotActive)
}

func TestExtend_NegativeDays_Rejected(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	_, err := engine.Extend(context.Background(), loan.ID, -3)
	assert.ErrorIs(t, err, circulation.ErrInvalidLoanPeriod)

	// The checkout-period set does not govern extensions and must not be
	// echoed in the message.
	var perr *circulation.InvalidPeriodError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, -3, perr.Days)
	assert.Empty(t, perr.Allowed)
	assert.NotContains(t, err.Error(), "allowed")
}

// =============================================================================
// DERIVED OVERDUE STATUS
// =============================================================================

func TestOverdue_DerivedAtReadTime(t *testing.T) {
	// GIVEN: An active loan
	// WHEN: The clock moves past the due date
	// THEN: It reports as overdue in queries while its stored status stays
	//       active, and returning it is still possible

	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	loan := checkout(t, engine, p.ID, item.ID)

	later := testNow.AddDate(0, 0, 20)
	engine.SetClock(func() time.Time { return later })

	overdue := circulation.StatusOverdue
	found, err := engine.List(ctx, circulation.Filter{Status: &overdue})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, loan.ID, found[0].ID)

	// Stored status is untouched.
	stored, err := store.Loans().Get(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StatusActive, stored.Status)
	assert.Equal(t, circulation.StatusOverdue, stored.StatusAt(later))
	assert.Equal(t, 6, stored.OverdueDays(later))

	_, err = engine.Return(ctx, loan.ID, "")
	assert.NoError(t, err)
}

func TestOverdue_NotListedBeforeDueDate(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)
	checkout(t, engine, p.ID, item.ID)

	overdue := circulation.StatusOverdue
	found, err := engine.List(context.Background(), circulation.Filter{Status: &overdue})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestListOverdue_MostOverdueFirst(t *testing.T) {
	engine, store := newTestEngine(t)
	seedItem(t, store, "item-1")
	seedItem(t, store, "item-2")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	l1, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID, ItemID: "item-1", DueDays: 7})
	require.NoError(t, err)
	l2, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID, ItemID: "item-2", DueDays: 14})
	require.NoError(t, err)

	engine.SetClock(func() time.Time { return testNow.AddDate(0, 0, 30) })

	overdue, err := engine.ListOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, l1.ID, overdue[0].ID)
	assert.Equal(t, l2.ID, overdue[1].ID)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEngine_EmitsTransitionEvents(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	var events []circulation.Event
	engine.SetSink(circulation.SinkFunc(func(ctx context.Context, e circulation.Event) error {
		events = append(events, e)
		return nil
	}))

	loan := checkout(t, engine, p.ID, item.ID)
	_, err := engine.Extend(ctx, loan.ID, 7)
	require.NoError(t, err)
	_, err = engine.Return(ctx, loan.ID, "")
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, circulation.EventCheckout, events[0].Type)
	assert.Equal(t, circulation.EventExtend, events[1].Type)
	assert.Equal(t, circulation.EventReturn, events[2].Type)
	assert.Equal(t, item.ID, events[0].ItemID)
	assert.Equal(t, p.ID, events[0].PatronID)
}

func TestEngine_SinkErrorDoesNotFailTransition(t *testing.T) {
	engine, store := newTestEngine(t)
	item := seedItem(t, store, "item-1")
	p := seedPatron(t, store, "pat-1", patron.StatusActive)

	engine.SetSink(circulation.SinkFunc(func(ctx context.Context, e circulation.Event) error {
		return context.DeadlineExceeded
	}))

	_, err := engine.Checkout(context.Background(), circulation.CheckoutRequest{
		PatronID: p.ID, ItemID: item.ID})
	assert.NoError(t, err)
}
