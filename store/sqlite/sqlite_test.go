package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
	"github.com/helmecke/minibiblio/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertItem(t *testing.T, store *sqlite.Store, id, code string) catalog.Item {
	t.Helper()
	item := catalog.Item{
		ID:        id,
		Code:      code,
		Type:      catalog.TypeBook,
		Title:     "Moby-Dick",
		Author:    "Herman Melville",
		Status:    catalog.StatusAvailable,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func insertPatron(t *testing.T, store *sqlite.Store, id, code string) patron.Patron {
	t.Helper()
	p := patron.Patron{
		ID:        id,
		Code:      code,
		FirstName: "Grace",
		LastName:  "Hopper",
		Status:    patron.StatusActive,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	require.NoError(t, store.CreatePatron(context.Background(), p))
	return p
}

func insertLoan(t *testing.T, store *sqlite.Store, id, code, itemID, patronID string) circulation.Loan {
	t.Helper()
	l := circulation.Loan{
		ID:           id,
		Code:         code,
		ItemID:       itemID,
		PatronID:     patronID,
		CheckoutDate: testNow,
		DueDate:      testNow.AddDate(0, 0, 14),
		Status:       circulation.StatusActive,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	require.NoError(t, store.CreateLoan(context.Background(), l))
	return l
}

// =============================================================================
// CATALOG ITEMS
// =============================================================================

func TestCatalog_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")

	got, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Code, got.Code)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, catalog.StatusAvailable, got.Status)
	assert.True(t, got.CreatedAt.Equal(testNow))

	byCode, err := store.GetItemByCode(ctx, "1/25")
	require.NoError(t, err)
	assert.Equal(t, item.ID, byCode.ID)

	_, err = store.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalog_DuplicateCodeRejected(t *testing.T) {
	store := newTestStore(t)
	insertItem(t, store, "item-1", "1/25")

	err := store.CreateItem(context.Background(), catalog.Item{
		ID: "item-2", Code: "1/25", Type: catalog.TypeBook, Title: "Other",
		Status: catalog.StatusAvailable, CreatedAt: testNow, UpdatedAt: testNow,
	})
	assert.ErrorIs(t, err, catalog.ErrDuplicateCode)
}

func TestCatalog_SetStatusIf_CAS(t *testing.T) {
	// GIVEN: An available item
	// WHEN: Two conditional flips available->borrowed run in sequence
	// THEN: The first wins, the second gets ErrStatusConflict

	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")

	err := store.SetItemStatusIf(ctx, item.ID, catalog.StatusAvailable, catalog.StatusBorrowed)
	require.NoError(t, err)

	err = store.SetItemStatusIf(ctx, item.ID, catalog.StatusAvailable, catalog.StatusBorrowed)
	assert.ErrorIs(t, err, catalog.ErrStatusConflict)

	err = store.SetItemStatusIf(ctx, "missing", catalog.StatusAvailable, catalog.StatusBorrowed)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalog_SetStatus_AvailableBlockedByActiveLoan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	// Damaged is a legal direct edit while on loan.
	got, err := store.SetItemStatus(ctx, item.ID, catalog.StatusDamaged)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusDamaged, got.Status)

	// Back to available is not, while the loan is open.
	_, err = store.SetItemStatus(ctx, item.ID, catalog.StatusAvailable)
	assert.ErrorIs(t, err, catalog.ErrActiveLoan)

	_, err = store.CloseLoan(ctx, "loan-1", testNow.AddDate(0, 0, 1), "")
	require.NoError(t, err)

	_, err = store.SetItemStatus(ctx, item.ID, catalog.StatusAvailable)
	assert.NoError(t, err)
}

func TestCatalog_DeleteBlockedByLoanHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	// Even a closed loan keeps the item undeletable.
	_, err := store.CloseLoan(ctx, "loan-1", testNow, "")
	require.NoError(t, err)

	assert.ErrorIs(t, store.DeleteItem(ctx, item.ID), catalog.ErrHasLoans)

	clean := insertItem(t, store, "item-2", "2/25")
	assert.NoError(t, store.DeleteItem(ctx, clean.ID))
	assert.ErrorIs(t, store.DeleteItem(ctx, "missing"), catalog.ErrNotFound)
}

func TestCatalog_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertItem(t, store, "item-1", "1/25")
	dvd := catalog.Item{
		ID: "item-2", Code: "2/25", Type: catalog.TypeDVD, Title: "Metropolis",
		Status: catalog.StatusBorrowed, CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, store.CreateItem(ctx, dvd))

	borrowed := catalog.StatusBorrowed
	items, err := store.ListItems(ctx, catalog.Filter{Status: &borrowed})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-2", items[0].ID)

	items, err = store.ListItems(ctx, catalog.Filter{Search: "moby"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0].ID)

	n, err := store.CountItems(ctx, catalog.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// =============================================================================
// PATRONS
// =============================================================================

func TestPatrons_DeleteBlockedByLoans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	assert.ErrorIs(t, store.DeletePatron(ctx, p.ID), patron.ErrHasLoans)

	clean := insertPatron(t, store, "pat-2", "LIB-2")
	assert.NoError(t, store.DeletePatron(ctx, clean.ID))
}

func TestPatrons_DuplicateCodeRejected(t *testing.T) {
	store := newTestStore(t)
	insertPatron(t, store, "pat-1", "LIB-1")

	err := store.CreatePatron(context.Background(), patron.Patron{
		ID: "pat-2", Code: "LIB-1", FirstName: "X", LastName: "Y",
		Status: patron.StatusActive, CreatedAt: testNow, UpdatedAt: testNow,
	})
	assert.ErrorIs(t, err, patron.ErrDuplicateCode)
}

// =============================================================================
// LOANS
// =============================================================================

func TestLoans_OneActiveLoanPerItem_IndexEnforced(t *testing.T) {
	// The partial unique index refuses a second open loan on one item even
	// when the engine's claim step is bypassed entirely.
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	err := store.CreateLoan(ctx, circulation.Loan{
		ID: "loan-2", Code: "LN-2/25", ItemID: item.ID, PatronID: p.ID,
		CheckoutDate: testNow, DueDate: testNow.AddDate(0, 0, 14),
		Status: circulation.StatusActive, CreatedAt: testNow, UpdatedAt: testNow,
	})
	assert.Error(t, err)

	// After closing the first loan a new one is accepted.
	_, err = store.CloseLoan(ctx, "loan-1", testNow, "")
	require.NoError(t, err)
	err = store.CreateLoan(ctx, circulation.Loan{
		ID: "loan-2", Code: "LN-2/25", ItemID: item.ID, PatronID: p.ID,
		CheckoutDate: testNow, DueDate: testNow.AddDate(0, 0, 14),
		Status: circulation.StatusActive, CreatedAt: testNow, UpdatedAt: testNow,
	})
	assert.NoError(t, err)
}

func TestLoans_Close_Conditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	at := testNow.AddDate(0, 0, 3)
	closed, err := store.CloseLoan(ctx, "loan-1", at, "all good")
	require.NoError(t, err)
	require.NotNil(t, closed.ReturnDate)
	assert.True(t, closed.ReturnDate.Equal(at))
	assert.Equal(t, circulation.StatusReturned, closed.Status)
	assert.Contains(t, closed.Notes, "Return note: all good")

	// Second close loses the conditional write.
	_, err = store.CloseLoan(ctx, "loan-1", at, "")
	assert.ErrorIs(t, err, circulation.ErrLoanNotActive)

	_, err = store.CloseLoan(ctx, "missing", at, "")
	assert.ErrorIs(t, err, circulation.ErrLoanNotFound)
}

func TestLoans_ExtendDue_Conditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	loan := insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	due := loan.DueDate.AddDate(0, 0, 7)
	extended, err := store.ExtendLoanDue(ctx, loan.ID, due)
	require.NoError(t, err)
	assert.True(t, extended.DueDate.Equal(due))

	_, err = store.CloseLoan(ctx, loan.ID, testNow, "")
	require.NoError(t, err)

	_, err = store.ExtendLoanDue(ctx, loan.ID, due.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, circulation.ErrLoanNotActive)
}

func TestLoans_FilterByYearAndDueBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	other := insertItem(t, store, "item-2", "2/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")

	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)
	old := circulation.Loan{
		ID: "loan-0", Code: "LN-9/24", ItemID: other.ID, PatronID: p.ID,
		CheckoutDate: testNow.AddDate(-1, 0, 0),
		DueDate:      testNow.AddDate(-1, 0, 14),
		Status:       circulation.StatusActive,
		CreatedAt:    testNow.AddDate(-1, 0, 0), UpdatedAt: testNow.AddDate(-1, 0, 0),
	}
	require.NoError(t, store.CreateLoan(ctx, old))

	loans, err := store.ListLoans(ctx, circulation.Filter{Year: 2024})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "loan-0", loans[0].ID)

	// Only the 2024 loan is already past due at testNow.
	cutoff := testNow
	loans, err = store.ListLoans(ctx, circulation.Filter{DueBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "loan-0", loans[0].ID)

	// Closing it removes it from the open-and-due set.
	_, err = store.CloseLoan(ctx, "loan-0", testNow, "")
	require.NoError(t, err)
	loans, err = store.ListLoans(ctx, circulation.Filter{DueBefore: &cutoff})
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestLoans_DueBefore_SubSecondBoundary(t *testing.T) {
	// GIVEN: A loan due half a second after the cutoff
	// WHEN: Filtering with DueBefore at the cutoff and one second later
	// THEN: The loan is not yet due at the cutoff but is one second later;
	//       the stored timestamp text must compare chronologically

	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")

	cutoff := testNow
	require.NoError(t, store.CreateLoan(ctx, circulation.Loan{
		ID: "loan-1", Code: "LN-1/25", ItemID: item.ID, PatronID: p.ID,
		CheckoutDate: testNow.AddDate(0, 0, -14),
		DueDate:      cutoff.Add(500 * time.Millisecond),
		Status:       circulation.StatusActive,
		CreatedAt:    testNow, UpdatedAt: testNow,
	}))

	loans, err := store.ListLoans(ctx, circulation.Filter{DueBefore: &cutoff})
	require.NoError(t, err)
	assert.Empty(t, loans, "due %v is not before %v", cutoff.Add(500*time.Millisecond), cutoff)

	later := cutoff.Add(time.Second)
	loans, err = store.ListLoans(ctx, circulation.Filter{DueBefore: &later})
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.True(t, loans[0].DueDate.Equal(cutoff.Add(500*time.Millisecond)))
}

func TestLoans_SearchJoinsItemAndPatron(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item := insertItem(t, store, "item-1", "1/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item.ID, p.ID)

	for _, q := range []string{"moby", "hopper", "lib-1", "ln-1"} {
		loans, err := store.ListLoans(ctx, circulation.Filter{Search: q})
		require.NoError(t, err)
		assert.Len(t, loans, 1, "search %q", q)
	}

	loans, err := store.ListLoans(ctx, circulation.Filter{Search: "dickens"})
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestLoans_CountActiveForPatron(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	item1 := insertItem(t, store, "item-1", "1/25")
	item2 := insertItem(t, store, "item-2", "2/25")
	p := insertPatron(t, store, "pat-1", "LIB-1")
	insertLoan(t, store, "loan-1", "LN-1/25", item1.ID, p.ID)
	insertLoan(t, store, "loan-2", "LN-2/25", item2.ID, p.ID)

	n, err := store.CountActiveForPatron(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.CloseLoan(ctx, "loan-1", testNow, "")
	require.NoError(t, err)

	n, err = store.CountActiveForPatron(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// SETTINGS & SEQUENCES
// =============================================================================

func TestSettings_UpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSetting(ctx, settings.KeyDefaultLoanDays)
	assert.ErrorIs(t, err, settings.ErrNotFound)

	require.NoError(t, store.SetSetting(ctx, settings.KeyDefaultLoanDays, "7"))
	require.NoError(t, store.SetSetting(ctx, settings.KeyDefaultLoanDays, "21"))

	v, err := store.GetSetting(ctx, settings.KeyDefaultLoanDays)
	require.NoError(t, err)
	assert.Equal(t, "21", v)

	all, err := store.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "21", all[0].Value)
}

func TestSequences_IncrementAndYearReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.NextNumber(ctx, settings.ScopeCatalogCode, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.NextNumber(ctx, settings.ScopeCatalogCode, 25)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Year change resets the counter.
	n, err = store.NextNumber(ctx, settings.ScopeCatalogCode, 26)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Peek never consumes.
	n, err = store.PeekNumber(ctx, settings.ScopeCatalogCode, 26)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = store.PeekNumber(ctx, settings.ScopeCatalogCode, 26)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Peek on a fresh scope or a different year reports 1.
	n, err = store.PeekNumber(ctx, settings.ScopeMemberCode, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.PeekNumber(ctx, settings.ScopeCatalogCode, 27)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSequences_ScopesIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.NextNumber(ctx, settings.ScopeCatalogCode, 25)
	require.NoError(t, err)

	n, err := store.NextNumber(ctx, settings.ScopeLoanCode, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAudit_RoundTripWithValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := audit.Entry{
		ID:          "audit-1",
		At:          testNow,
		Action:      "checkout",
		LoanID:      "loan-1",
		LoanCode:    "LN-1/25",
		PatronID:    "pat-1",
		ItemID:      "item-1",
		Description: "Checked out item item-1 to patron pat-1",
		NewValues:   map[string]string{"status": "active"},
		Actor:       "desk",
	}
	require.NoError(t, store.AppendAudit(ctx, e))
	require.NoError(t, store.AppendAudit(ctx, audit.Entry{
		ID: "audit-2", At: testNow.Add(time.Hour), Action: "return",
		LoanID: "loan-1", Actor: "desk",
	}))

	entries, err := store.QueryAudit(ctx, audit.Filter{LoanID: "loan-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "audit-2", entries[0].ID)
	assert.Equal(t, "audit-1", entries[1].ID)
	assert.Equal(t, map[string]string{"status": "active"}, entries[1].NewValues)
	assert.True(t, entries[1].At.Equal(testNow))

	byAction, err := store.QueryAudit(ctx, audit.Filter{Action: "return"})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "audit-2", byAction[0].ID)
}
