package settings

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CODE GENERATION - year-scoped, template-formatted
// =============================================================================

// CodeYear returns the two-digit year used in code templates and as the
// sequence reset key.
func CodeYear(t time.Time) int {
	return t.Year() % 100
}

// FormatCode substitutes {number} and {year} in a code template.
// Unknown text is passed through verbatim.
func FormatCode(format string, number, year int) string {
	out := strings.ReplaceAll(format, "{number}", strconv.Itoa(number))
	out = strings.ReplaceAll(out, "{year}", strconv.Itoa(year))
	return out
}

// NextCatalogCode issues the next catalog code for the given time.
func NextCatalogCode(ctx context.Context, p Provider, now time.Time) (string, error) {
	return nextCode(ctx, p, KeyCatalogCodeFormat, DefaultCatalogCodeFormat, ScopeCatalogCode, CodeYear(now))
}

// PeekCatalogCode previews the next catalog code without consuming it.
func PeekCatalogCode(ctx context.Context, p Provider, now time.Time) (string, error) {
	return peekCode(ctx, p, KeyCatalogCodeFormat, DefaultCatalogCodeFormat, ScopeCatalogCode, CodeYear(now))
}

// NextLoanCode issues the next loan code for the given time.
func NextLoanCode(ctx context.Context, p Provider, now time.Time) (string, error) {
	return nextCode(ctx, p, KeyLoanCodeFormat, DefaultLoanCodeFormat, ScopeLoanCode, CodeYear(now))
}

// NextMemberCode issues the next membership code. Membership codes do not
// reset by year; the sequence runs under year 0.
func NextMemberCode(ctx context.Context, p Provider) (string, error) {
	return nextCode(ctx, p, KeyMemberCodeFormat, DefaultMemberCodeFormat, ScopeMemberCode, 0)
}

func nextCode(ctx context.Context, p Provider, formatKey, formatDef, scope string, year int) (string, error) {
	format, err := getOr(ctx, p, formatKey, formatDef)
	if err != nil {
		return "", err
	}
	n, err := p.NextNumber(ctx, scope, year)
	if err != nil {
		return "", err
	}
	return FormatCode(format, n, year), nil
}

func peekCode(ctx context.Context, p Provider, formatKey, formatDef, scope string, year int) (string, error) {
	format, err := getOr(ctx, p, formatKey, formatDef)
	if err != nil {
		return "", err
	}
	n, err := p.PeekNumber(ctx, scope, year)
	if err != nil {
		return "", err
	}
	return FormatCode(format, n, year), nil
}
