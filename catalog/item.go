/*
Package catalog holds the lendable inventory: items, their statuses, and the
persistence interface the rest of the system talks to.

KEY CONCEPTS:
  - Item:   A single lendable unit (book, disc, periodical, ...).
  - Code:   The human-readable catalog code ("17/26"), distinct from ID.
  - Status: Mutually exclusive availability state. "borrowed" is owned by the
    circulation engine; "damaged"/"lost"/"reserved" are set by direct edits.

STATUS OWNERSHIP:
  The circulation engine is the only writer of available<->borrowed flips and
  goes through SetStatusIf (compare-and-swap). Direct edits use SetStatus,
  which refuses to mark an item "available" while an active loan still
  references it - belt and suspenders next to the engine's own guard.

SEE ALSO:
  - circulation/engine.go: the only caller of SetStatusIf
  - store/sqlite: conditional-UPDATE implementation
*/
package catalog

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// STATUS & TYPE
// =============================================================================

type Status string

const (
	StatusAvailable Status = "available"
	StatusBorrowed  Status = "borrowed"
	StatusReserved  Status = "reserved"
	StatusDamaged   Status = "damaged"
	StatusLost      Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusBorrowed, StatusReserved, StatusDamaged, StatusLost:
		return true
	}
	return false
}

type Type string

const (
	TypeBook     Type = "book"
	TypeDVD      Type = "dvd"
	TypeCD       Type = "cd"
	TypeMagazine Type = "magazine"
	TypeOther    Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeBook, TypeDVD, TypeCD, TypeMagazine, TypeOther:
		return true
	}
	return false
}

// =============================================================================
// ITEM
// =============================================================================

type Item struct {
	ID          string
	Code        string // catalog code, unique, human-readable
	Type        Type
	Title       string
	Author      string
	ISBN        string
	Publisher   string
	Year        int
	Description string
	Genre       string
	Language    string
	Location    string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Filter narrows List/Count. Zero value matches everything.
type Filter struct {
	Status *Status
	Type   *Type
	Search string // matches code, title, author, ISBN
}

// =============================================================================
// STORE
// =============================================================================

// Store persists catalog items.
//
// SetStatusIf is the compare-and-swap used by the circulation engine: the
// flip only happens if the item is currently in the expected state, and a
// failed swap reports ErrStatusConflict. This is the linearization point for
// concurrent checkouts (see circulation/engine.go).
type Store interface {
	Create(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	GetByCode(ctx context.Context, code string) (Item, error)
	Update(ctx context.Context, item Item) (Item, error)

	// Delete removes an item. Fails with ErrHasLoans if any loan (active or
	// historical) references it - loans are the audit record.
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, f Filter) ([]Item, error)
	Count(ctx context.Context, f Filter) (int, error)

	// SetStatus applies a direct status edit (damaged, lost, reserved, ...).
	// Rejects a change to "available" while an active loan references the item.
	SetStatus(ctx context.Context, id string, to Status) (Item, error)

	// SetStatusIf flips status only when the current status equals from.
	// Returns ErrStatusConflict when the item is in any other state.
	SetStatusIf(ctx context.Context, id string, from, to Status) error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when no item matches the given ID or code.
	ErrNotFound = errors.New("catalog item not found")

	// ErrDuplicateCode is returned when creating or updating an item with a
	// catalog code that is already taken.
	ErrDuplicateCode = errors.New("catalog code already exists")

	// ErrStatusConflict is returned when a conditional status flip finds the
	// item in an unexpected state. The loser of a checkout race sees this.
	ErrStatusConflict = errors.New("catalog item status conflict")

	// ErrHasLoans is returned when deleting an item that loans reference.
	ErrHasLoans = errors.New("catalog item has loan history")

	// ErrActiveLoan is returned when a direct edit tries to mark an item
	// available while an active loan still references it.
	ErrActiveLoan = errors.New("catalog item has an active loan")
)
