package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/store/memory"
)

func TestRecorder_TurnsEventsIntoEntries(t *testing.T) {
	store := memory.New()
	recorder := audit.NewRecorder(store.Audit(), "front-desk")
	ctx := context.Background()

	at := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	loan := circulation.Loan{
		ID:      "loan-1",
		Code:    "LN-1/25",
		DueDate: at.AddDate(0, 0, 14),
	}

	err := recorder.Record(ctx, circulation.Event{
		Type:     circulation.EventCheckout,
		At:       at,
		Loan:     loan,
		PatronID: "pat-1",
		ItemID:   "item-1",
		New:      map[string]string{"status": "active"},
	})
	require.NoError(t, err)

	entries, err := store.Audit().Query(ctx, audit.Filter{LoanID: "loan-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "checkout", e.Action)
	assert.Equal(t, "LN-1/25", e.LoanCode)
	assert.Equal(t, "pat-1", e.PatronID)
	assert.Equal(t, "front-desk", e.Actor)
	assert.Contains(t, e.Description, "LN-1/25")
	assert.Contains(t, e.Description, "2025-03-24")
	assert.Equal(t, map[string]string{"status": "active"}, e.NewValues)
}

func TestRecorder_EmptyActorDefaultsToSystem(t *testing.T) {
	store := memory.New()
	recorder := audit.NewRecorder(store.Audit(), "")

	err := recorder.Record(context.Background(), circulation.Event{
		Type: circulation.EventReturn,
		At:   time.Now(),
		Loan: circulation.Loan{ID: "loan-1", Code: "LN-1/25"},
	})
	require.NoError(t, err)

	entries, err := store.Audit().Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].Actor)
}
