// Package patron holds library members and their standing.
//
// Only "active" patrons may check out new items; suspended and inactive
// patrons can still return or extend loans they already hold (eligibility is
// a checkout-time concern, see circulation/engine.go).
//
// The "currently borrowed" count is never stored on the patron record. It is
// computed from active loans on demand, so there is nothing to drift.
package patron

import (
	"context"
	"errors"
	"time"
)

// =============================================================================
// PATRON
// =============================================================================

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

type Patron struct {
	ID        string
	Code      string // membership code ("LIB-1003"), unique
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Status    Status

	// BorrowLimit caps concurrent active loans. Zero means no limit.
	BorrowLimit int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Patron) Name() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}

// Filter narrows List/Count. Zero value matches everything.
type Filter struct {
	Status *Status
	Search string // matches code, first name, last name, email
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Create(ctx context.Context, p Patron) error
	Get(ctx context.Context, id string) (Patron, error)
	GetByCode(ctx context.Context, code string) (Patron, error)
	Update(ctx context.Context, p Patron) (Patron, error)

	// Delete removes a patron. Fails with ErrHasLoans if any loan references
	// them - loan history is never cascaded away.
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, f Filter) ([]Patron, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound      = errors.New("patron not found")
	ErrDuplicateCode = errors.New("membership code already exists")
	ErrHasLoans      = errors.New("patron has loan history")
)
