/*
Package reporting builds read-only projections over the loan ledger.

These are pure queries: no side effects, no caching, no authority. The loan
store is the source of truth and every report is recomputed from committed
state on each call. Reports tolerate slightly stale reads; they are
informational aggregates, not invariants.

REPORTS:
  - PatronHistory:    every loan a patron ever had, with active/total counts
  - ItemHistory:      every loan of one catalog item
  - YearlyStatistics: totals, distinct items/patrons, monthly breakdown,
                      top-N borrowed items for one checkout year
  - OverdueReport:    open loans past due, with fees at the configured
                      per-day rate (zero rate = zero fees)
*/
package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	loans    circulation.LoanStore
	items    catalog.Store
	patrons  patron.Store
	settings settings.Provider
	now      func() time.Time
}

func NewReporter(loans circulation.LoanStore, items catalog.Store, patrons patron.Store, provider settings.Provider) *Reporter {
	return &Reporter{
		loans:    loans,
		items:    items,
		patrons:  patrons,
		settings: provider,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (r *Reporter) SetClock(now func() time.Time) { r.now = now }

// =============================================================================
// PATRON HISTORY
// =============================================================================

type PatronHistory struct {
	PatronID    string
	PatronCode  string
	PatronName  string
	TotalLoans  int
	ActiveLoans int
	Loans       []PatronLoanLine
}

type PatronLoanLine struct {
	LoanCode     string
	ItemCode     string
	Title        string
	Author       string
	CheckoutDate time.Time
	DueDate      time.Time
	ReturnDate   *time.Time
	Status       circulation.Status // derived
}

// PatronHistory returns the complete loan history for one patron, newest
// first.
func (r *Reporter) PatronHistory(ctx context.Context, patronID string) (PatronHistory, error) {
	p, err := r.patrons.Get(ctx, patronID)
	if err != nil {
		return PatronHistory{}, err
	}

	loans, err := r.loans.List(ctx, circulation.Filter{PatronID: p.ID})
	if err != nil {
		return PatronHistory{}, err
	}

	now := r.now()
	h := PatronHistory{
		PatronID:   p.ID,
		PatronCode: p.Code,
		PatronName: p.Name(),
		TotalLoans: len(loans),
	}
	for _, l := range loans {
		if l.Active() {
			h.ActiveLoans++
		}
		line := PatronLoanLine{
			LoanCode:     l.Code,
			CheckoutDate: l.CheckoutDate,
			DueDate:      l.DueDate,
			ReturnDate:   l.ReturnDate,
			Status:       l.StatusAt(now),
		}
		if item, err := r.items.Get(ctx, l.ItemID); err == nil {
			line.ItemCode = item.Code
			line.Title = item.Title
			line.Author = item.Author
		}
		h.Loans = append(h.Loans, line)
	}
	return h, nil
}

// =============================================================================
// ITEM HISTORY
// =============================================================================

type ItemHistory struct {
	ItemID     string
	ItemCode   string
	Title      string
	Author     string
	TotalLoans int
	Loans      []ItemLoanLine
}

type ItemLoanLine struct {
	LoanCode     string
	PatronCode   string
	PatronName   string
	CheckoutDate time.Time
	DueDate      time.Time
	ReturnDate   *time.Time
	Status       circulation.Status // derived
}

// ItemHistory returns the complete loan history for one catalog item,
// newest first.
func (r *Reporter) ItemHistory(ctx context.Context, itemID string) (ItemHistory, error) {
	item, err := r.items.Get(ctx, itemID)
	if err != nil {
		return ItemHistory{}, err
	}

	loans, err := r.loans.List(ctx, circulation.Filter{ItemID: item.ID})
	if err != nil {
		return ItemHistory{}, err
	}

	now := r.now()
	h := ItemHistory{
		ItemID:     item.ID,
		ItemCode:   item.Code,
		Title:      item.Title,
		Author:     item.Author,
		TotalLoans: len(loans),
	}
	for _, l := range loans {
		line := ItemLoanLine{
			LoanCode:     l.Code,
			CheckoutDate: l.CheckoutDate,
			DueDate:      l.DueDate,
			ReturnDate:   l.ReturnDate,
			Status:       l.StatusAt(now),
		}
		if p, err := r.patrons.Get(ctx, l.PatronID); err == nil {
			line.PatronCode = p.Code
			line.PatronName = p.Name()
		}
		h.Loans = append(h.Loans, line)
	}
	return h, nil
}

// =============================================================================
// YEARLY STATISTICS
// =============================================================================

type YearlyStatistics struct {
	Year            int
	TotalLoans      int
	DistinctItems   int
	DistinctPatrons int
	Monthly         [12]int // loans by checkout month, January first
	TopItems        []TopItem
}

type TopItem struct {
	ItemID    string
	ItemCode  string
	Title     string
	LoanCount int
}

// YearlyStatistics aggregates all loans checked out in the given year.
// topN caps the top-borrowed list; 0 means 10.
func (r *Reporter) YearlyStatistics(ctx context.Context, year, topN int) (YearlyStatistics, error) {
	if year == 0 {
		year = r.now().Year()
	}
	if topN == 0 {
		topN = 10
	}

	loans, err := r.loans.List(ctx, circulation.Filter{Year: year})
	if err != nil {
		return YearlyStatistics{}, err
	}

	stats := YearlyStatistics{Year: year, TotalLoans: len(loans)}
	itemCounts := make(map[string]int)
	patrons := make(map[string]struct{})
	for _, l := range loans {
		itemCounts[l.ItemID]++
		patrons[l.PatronID] = struct{}{}
		stats.Monthly[l.CheckoutDate.Month()-1]++
	}
	stats.DistinctItems = len(itemCounts)
	stats.DistinctPatrons = len(patrons)

	ids := make([]string, 0, len(itemCounts))
	for id := range itemCounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if itemCounts[ids[i]] != itemCounts[ids[j]] {
			return itemCounts[ids[i]] > itemCounts[ids[j]]
		}
		return ids[i] < ids[j] // stable order for equal counts
	})
	if len(ids) > topN {
		ids = ids[:topN]
	}
	for _, id := range ids {
		top := TopItem{ItemID: id, LoanCount: itemCounts[id]}
		if item, err := r.items.Get(ctx, id); err == nil {
			top.ItemCode = item.Code
			top.Title = item.Title
		}
		stats.TopItems = append(stats.TopItems, top)
	}
	return stats, nil
}

// =============================================================================
// OVERDUE REPORT
// =============================================================================

type OverdueReport struct {
	AsOf      time.Time
	FeePerDay decimal.Decimal
	Lines     []OverdueLine
	TotalFees decimal.Decimal
}

type OverdueLine struct {
	LoanCode    string
	ItemCode    string
	Title       string
	PatronCode  string
	PatronName  string
	DueDate     time.Time
	DaysOverdue int
	Fee         decimal.Decimal
}

// OverdueReport lists open loans past due, most overdue first, with fees at
// the configured per-day rate.
func (r *Reporter) OverdueReport(ctx context.Context) (OverdueReport, error) {
	now := r.now()

	policy, err := settings.LoadLoanPolicy(ctx, r.settings)
	if err != nil {
		return OverdueReport{}, err
	}

	active := circulation.StatusActive
	loans, err := r.loans.List(ctx, circulation.Filter{Status: &active, DueBefore: &now})
	if err != nil {
		return OverdueReport{}, err
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].DueDate.Before(loans[j].DueDate) })

	report := OverdueReport{AsOf: now, FeePerDay: policy.OverdueFeePerDay, TotalFees: decimal.Zero}
	for _, l := range loans {
		line := OverdueLine{
			LoanCode:    l.Code,
			DueDate:     l.DueDate,
			DaysOverdue: l.OverdueDays(now),
			Fee:         l.OverdueFee(now, policy.OverdueFeePerDay),
		}
		if item, err := r.items.Get(ctx, l.ItemID); err == nil {
			line.ItemCode = item.Code
			line.Title = item.Title
		}
		if p, err := r.patrons.Get(ctx, l.PatronID); err == nil {
			line.PatronCode = p.Code
			line.PatronName = p.Name()
		}
		report.TotalFees = report.TotalFees.Add(line.Fee)
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}
