/*
errors.go - Error taxonomy for the circulation engine

The calling layer renders different guidance for "item unavailable" vs
"patron ineligible" vs "not found", so every precondition violation gets a
distinct, identifiable kind. Sentinels support errors.Is; the structured
types carry enough context for an accurate message and unwrap to their
sentinel.

The engine never coerces an invalid request into success and never retries;
a conflict (lost checkout race) is surfaced for the caller to retry.
*/
package circulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/patron"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrLoanNotFound is returned when no loan matches the given ID or code.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrLoanNotActive is returned when extending a loan that is closed.
	ErrLoanNotActive = errors.New("loan is not active")

	// ErrLoanAlreadyReturned guards Return idempotency: the second return of
	// a loan fails instead of silently succeeding, and the item status is
	// not toggled twice.
	ErrLoanAlreadyReturned = errors.New("loan already returned")

	// ErrItemNotAvailable is returned when the catalog item is missing or in
	// any status other than available.
	ErrItemNotAvailable = errors.New("item not available")

	// ErrPatronNotEligible is returned when the patron is missing, not
	// active, or over their borrowing limit.
	ErrPatronNotEligible = errors.New("patron not eligible")

	// ErrInvalidLoanPeriod is returned for non-positive day counts or
	// periods outside the policy's allowed set.
	ErrInvalidLoanPeriod = errors.New("invalid loan period")

	// ErrConflict is returned when the atomic claim on the item status was
	// lost to a concurrent operation. Safe to retry.
	ErrConflict = errors.New("conflicting update")
)

// =============================================================================
// STRUCTURED ERRORS - carry context for user-facing messages
// =============================================================================

// NotAvailableError reports why an item cannot be checked out.
type NotAvailableError struct {
	ItemID string
	Status catalog.Status // empty when the item does not exist
}

func (e *NotAvailableError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("item %s not available: not found", e.ItemID)
	}
	return fmt.Sprintf("item %s not available: status is %s", e.ItemID, e.Status)
}

func (e *NotAvailableError) Unwrap() error { return ErrItemNotAvailable }

// NotEligibleError reports why a patron cannot check out.
type NotEligibleError struct {
	PatronID string
	Status   patron.Status // empty when the patron does not exist
	Limit    int           // set when the borrowing limit was hit
	Active   int
}

func (e *NotEligibleError) Error() string {
	switch {
	case e.Status == "":
		return fmt.Sprintf("patron %s not eligible: not found", e.PatronID)
	case e.Limit > 0:
		return fmt.Sprintf("patron %s not eligible: %d of %d items already borrowed", e.PatronID, e.Active, e.Limit)
	default:
		return fmt.Sprintf("patron %s not eligible: status is %s", e.PatronID, e.Status)
	}
}

func (e *NotEligibleError) Unwrap() error { return ErrPatronNotEligible }

// InvalidPeriodError reports an unusable loan period. Allowed is set when a
// policy's allowed set rejected the period and empty for plain invalid day
// counts (negative extensions).
type InvalidPeriodError struct {
	Days    int
	Allowed []int
}

func (e *InvalidPeriodError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid loan period: %d days", e.Days)
	}
	return fmt.Sprintf("invalid loan period: %d days (allowed: %v)", e.Days, e.Allowed)
}

func (e *InvalidPeriodError) Unwrap() error { return ErrInvalidLoanPeriod }

// AlreadyReturnedError reports a duplicate return.
type AlreadyReturnedError struct {
	LoanID     string
	ReturnedAt time.Time
}

func (e *AlreadyReturnedError) Error() string {
	return fmt.Sprintf("loan %s already returned at %s", e.LoanID, e.ReturnedAt.Format(time.RFC3339))
}

func (e *AlreadyReturnedError) Unwrap() error { return ErrLoanAlreadyReturned }

// ConflictError reports a lost race on the item's conditional status flip.
type ConflictError struct {
	ItemID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("item %s was modified concurrently", e.ItemID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsNotFound reports whether err is a missing loan, item, or patron.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, catalog.ErrNotFound) ||
		errors.Is(err, patron.ErrNotFound)
}

// IsPreconditionFailed reports whether err is a violated business
// precondition, as opposed to malformed input or a storage failure.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrItemNotAvailable) ||
		errors.Is(err, ErrPatronNotEligible) ||
		errors.Is(err, ErrLoanNotActive) ||
		errors.Is(err, ErrLoanAlreadyReturned) ||
		errors.Is(err, ErrInvalidLoanPeriod)
}

// IsConflict reports whether err means the operation lost an atomic race and
// may succeed on retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, catalog.ErrStatusConflict)
}
