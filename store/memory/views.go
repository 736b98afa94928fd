package memory

import (
	"context"
	"time"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// INTERFACE VIEWS
// =============================================================================
// The store interfaces share method names (Get, Create, List, ...), so Store
// exposes one adapter per interface instead of implementing them directly.

func (s *Store) Catalog() catalog.Store         { return catalogView{s} }
func (s *Store) Patrons() patron.Store          { return patronView{s} }
func (s *Store) Loans() circulation.LoanStore   { return loanView{s} }
func (s *Store) Settings() settings.Provider    { return settingsView{s} }
func (s *Store) Audit() audit.Log               { return auditView{s} }

type catalogView struct{ s *Store }

func (v catalogView) Create(ctx context.Context, item catalog.Item) error { return v.s.CreateItem(ctx, item) }
func (v catalogView) Get(ctx context.Context, id string) (catalog.Item, error) {
	return v.s.GetItem(ctx, id)
}
func (v catalogView) GetByCode(ctx context.Context, code string) (catalog.Item, error) {
	return v.s.GetItemByCode(ctx, code)
}
func (v catalogView) Update(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	return v.s.UpdateItem(ctx, item)
}
func (v catalogView) Delete(ctx context.Context, id string) error { return v.s.DeleteItem(ctx, id) }
func (v catalogView) List(ctx context.Context, f catalog.Filter) ([]catalog.Item, error) {
	return v.s.ListItems(ctx, f)
}
func (v catalogView) Count(ctx context.Context, f catalog.Filter) (int, error) {
	return v.s.CountItems(ctx, f)
}
func (v catalogView) SetStatus(ctx context.Context, id string, to catalog.Status) (catalog.Item, error) {
	return v.s.SetItemStatus(ctx, id, to)
}
func (v catalogView) SetStatusIf(ctx context.Context, id string, from, to catalog.Status) error {
	return v.s.SetItemStatusIf(ctx, id, from, to)
}

type patronView struct{ s *Store }

func (v patronView) Create(ctx context.Context, p patron.Patron) error {
	return v.s.CreatePatron(ctx, p)
}
func (v patronView) Get(ctx context.Context, id string) (patron.Patron, error) {
	return v.s.GetPatron(ctx, id)
}
func (v patronView) GetByCode(ctx context.Context, code string) (patron.Patron, error) {
	return v.s.GetPatronByCode(ctx, code)
}
func (v patronView) Update(ctx context.Context, p patron.Patron) (patron.Patron, error) {
	return v.s.UpdatePatron(ctx, p)
}
func (v patronView) Delete(ctx context.Context, id string) error { return v.s.DeletePatron(ctx, id) }
func (v patronView) List(ctx context.Context, f patron.Filter) ([]patron.Patron, error) {
	return v.s.ListPatrons(ctx, f)
}
func (v patronView) Count(ctx context.Context, f patron.Filter) (int, error) {
	return v.s.CountPatrons(ctx, f)
}

type loanView struct{ s *Store }

func (v loanView) Create(ctx context.Context, l circulation.Loan) error {
	return v.s.CreateLoan(ctx, l)
}
func (v loanView) Get(ctx context.Context, id string) (circulation.Loan, error) {
	return v.s.GetLoan(ctx, id)
}
func (v loanView) GetByCode(ctx context.Context, code string) (circulation.Loan, error) {
	return v.s.GetLoanByCode(ctx, code)
}
func (v loanView) List(ctx context.Context, f circulation.Filter) ([]circulation.Loan, error) {
	return v.s.ListLoans(ctx, f)
}
func (v loanView) Count(ctx context.Context, f circulation.Filter) (int, error) {
	return v.s.CountLoans(ctx, f)
}
func (v loanView) CountActiveForPatron(ctx context.Context, patronID string) (int, error) {
	return v.s.CountActiveForPatron(ctx, patronID)
}
func (v loanView) Close(ctx context.Context, id string, at time.Time, note string) (circulation.Loan, error) {
	return v.s.CloseLoan(ctx, id, at, note)
}
func (v loanView) ExtendDue(ctx context.Context, id string, due time.Time) (circulation.Loan, error) {
	return v.s.ExtendLoanDue(ctx, id, due)
}

type settingsView struct{ s *Store }

func (v settingsView) Get(ctx context.Context, key string) (string, error) {
	return v.s.GetSetting(ctx, key)
}
func (v settingsView) Set(ctx context.Context, key, value string) error {
	return v.s.SetSetting(ctx, key, value)
}
func (v settingsView) List(ctx context.Context) ([]settings.Setting, error) {
	return v.s.ListSettings(ctx)
}
func (v settingsView) NextNumber(ctx context.Context, scope string, year int) (int, error) {
	return v.s.NextNumber(ctx, scope, year)
}
func (v settingsView) PeekNumber(ctx context.Context, scope string, year int) (int, error) {
	return v.s.PeekNumber(ctx, scope, year)
}

type auditView struct{ s *Store }

func (v auditView) Append(ctx context.Context, e audit.Entry) error { return v.s.AppendAudit(ctx, e) }
func (v auditView) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return v.s.QueryAudit(ctx, f)
}
