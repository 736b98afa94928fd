/*
Package settings supplies configurable policy to the circulation engine.

PURPOSE:
  Two jobs:
  1. A small key/value store of application settings (loan periods, fee rate,
     code formats) with typed accessors and defaults.
  2. Year-scoped code sequences for catalog codes, loan codes, and membership
     codes, with a configurable "{number}/{year}" template.

POLICY IS RE-READ, NEVER CACHED:
  The engine loads LoanPolicy at the time of each checkout/extend. A settings
  change therefore applies to the next operation immediately without touching
  existing loans. Nothing in this package memoizes store reads.

YEAR-SCOPED SEQUENCES:
  The counter resets to 1 whenever the current (two-digit) year differs from
  the year the last number was issued in. "17/25" is the 17th item of 2025;
  the first item of 2026 is "1/26". The increment itself is atomic inside the
  Provider implementation (single conditional write in sqlite, mutex in the
  memory store).

SEE ALSO:
  - circulation/engine.go: consumes LoanPolicy per operation
  - store/sqlite: app_settings + code_sequences tables
*/
package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KEYS & DEFAULTS
// =============================================================================

const (
	KeyDefaultLoanDays   = "default_loan_days"
	KeyAllowedLoanDays   = "allowed_loan_days" // comma-separated list
	KeyExtensionDays     = "extension_days"
	KeyOverdueFeePerDay  = "overdue_fee_per_day"
	KeyCatalogCodeFormat = "catalog_code_format"
	KeyLoanCodeFormat    = "loan_code_format"
	KeyMemberCodeFormat  = "membership_code_format"
)

const (
	DefaultLoanDays          = 14
	DefaultAllowedLoanDays   = "7,14,21,28"
	DefaultExtensionDays     = 14
	DefaultCatalogCodeFormat = "{number}/{year}"
	DefaultLoanCodeFormat    = "LN-{number}/{year}"
	DefaultMemberCodeFormat  = "LIB-{number}"
)

// Sequence scopes. Membership codes are a plain running sequence (year 0);
// catalog and loan codes reset each year.
const (
	ScopeCatalogCode = "catalog_code"
	ScopeLoanCode    = "loan_code"
	ScopeMemberCode  = "membership_code"
)

var ErrNotFound = errors.New("setting not found")

// =============================================================================
// PROVIDER
// =============================================================================

type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Provider is the persistence interface for settings and code sequences.
type Provider interface {
	// Get returns the stored value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, creating or replacing it.
	Set(ctx context.Context, key, value string) error

	List(ctx context.Context) ([]Setting, error)

	// NextNumber atomically issues the next number in the given scope for
	// the given year, resetting to 1 when the year changes.
	NextNumber(ctx context.Context, scope string, year int) (int, error)

	// PeekNumber returns what NextNumber would issue, without consuming it.
	PeekNumber(ctx context.Context, scope string, year int) (int, error)
}

// getOr reads key, falling back to def when unset.
func getOr(ctx context.Context, p Provider, key, def string) (string, error) {
	v, err := p.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// =============================================================================
// LOAN POLICY
// =============================================================================

// LoanPolicy is the snapshot of circulation policy injected into each engine
// operation. Build one with LoadLoanPolicy; tests construct them directly.
type LoanPolicy struct {
	DefaultLoanDays  int
	AllowedLoanDays  []int
	ExtensionDays    int
	OverdueFeePerDay decimal.Decimal
}

// Allows reports whether days is a selectable loan period. An empty allowed
// set accepts any positive period.
func (p LoanPolicy) Allows(days int) bool {
	if days <= 0 {
		return false
	}
	if len(p.AllowedLoanDays) == 0 {
		return true
	}
	for _, d := range p.AllowedLoanDays {
		if d == days {
			return true
		}
	}
	return false
}

// LoadLoanPolicy reads the current policy from the provider, applying
// defaults for unset keys.
func LoadLoanPolicy(ctx context.Context, p Provider) (LoanPolicy, error) {
	policy := LoanPolicy{
		DefaultLoanDays:  DefaultLoanDays,
		ExtensionDays:    DefaultExtensionDays,
		OverdueFeePerDay: decimal.Zero,
	}

	if v, err := getOr(ctx, p, KeyDefaultLoanDays, strconv.Itoa(DefaultLoanDays)); err != nil {
		return LoanPolicy{}, err
	} else if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
		policy.DefaultLoanDays = n
	}

	if v, err := getOr(ctx, p, KeyAllowedLoanDays, DefaultAllowedLoanDays); err != nil {
		return LoanPolicy{}, err
	} else {
		policy.AllowedLoanDays = parseIntList(v)
	}

	if v, err := getOr(ctx, p, KeyExtensionDays, strconv.Itoa(DefaultExtensionDays)); err != nil {
		return LoanPolicy{}, err
	} else if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
		policy.ExtensionDays = n
	}

	if v, err := getOr(ctx, p, KeyOverdueFeePerDay, "0"); err != nil {
		return LoanPolicy{}, err
	} else if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil && !d.IsNegative() {
		policy.OverdueFeePerDay = d
	}

	return policy, nil
}

func parseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > 0 {
			out = append(out, n)
		}
	}
	return out
}
