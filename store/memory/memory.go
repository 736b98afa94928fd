/*
Package memory provides an in-memory implementation of every store
interface, for tests and throwaway runs.

One mutex guards all tables, so the conditional writes (status flips, loan
close, sequence increments) are atomic exactly like their SQL counterparts.
Reads copy out; callers never see internal map state.
*/
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
)

// Store backs catalog.Store, patron.Store, circulation.LoanStore,
// settings.Provider, and audit.Log. The interfaces share method names, so
// each is exposed as a view (Catalog(), Patrons(), Loans(), Settings(),
// Audit()) over the same tables and the same mutex.
type Store struct {
	mu        sync.RWMutex
	items     map[string]catalog.Item
	patrons   map[string]patron.Patron
	loans     map[string]circulation.Loan
	settings  map[string]settings.Setting
	sequences map[string]sequence
	audit     []audit.Entry
}

type sequence struct {
	last int
	year int
}

func New() *Store {
	return &Store{
		items:     make(map[string]catalog.Item),
		patrons:   make(map[string]patron.Patron),
		loans:     make(map[string]circulation.Loan),
		settings:  make(map[string]settings.Setting),
		sequences: make(map[string]sequence),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) CreateItem(ctx context.Context, item catalog.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.items {
		if other.Code == item.Code {
			return catalog.ErrDuplicateCode
		}
	}
	s.items[item.ID] = item
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return item, nil
}

func (s *Store) GetItemByCode(ctx context.Context, code string) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Code == code {
			return item, nil
		}
	}
	return catalog.Item{}, catalog.ErrNotFound
}

func (s *Store) UpdateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	for _, other := range s.items {
		if other.ID != item.ID && other.Code == item.Code {
			return catalog.Item{}, catalog.ErrDuplicateCode
		}
	}
	item.UpdatedAt = time.Now()
	s.items[item.ID] = item
	return item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return catalog.ErrNotFound
	}
	for _, l := range s.loans {
		if l.ItemID == id {
			return catalog.ErrHasLoans
		}
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListItems(ctx context.Context, f catalog.Filter) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Item
	for _, item := range s.items {
		if f.Status != nil && item.Status != *f.Status {
			continue
		}
		if f.Type != nil && item.Type != *f.Type {
			continue
		}
		if f.Search != "" && !matchesAny(f.Search, item.Code, item.Title, item.Author, item.ISBN) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CountItems(ctx context.Context, f catalog.Filter) (int, error) {
	items, err := s.ListItems(ctx, f)
	return len(items), err
}

func (s *Store) SetItemStatus(ctx context.Context, id string, to catalog.Status) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	if to == catalog.StatusAvailable {
		for _, l := range s.loans {
			if l.ItemID == id && l.ReturnDate == nil {
				return catalog.Item{}, catalog.ErrActiveLoan
			}
		}
	}
	item.Status = to
	item.UpdatedAt = time.Now()
	s.items[id] = item
	return item, nil
}

func (s *Store) SetItemStatusIf(ctx context.Context, id string, from, to catalog.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if item.Status != from {
		return catalog.ErrStatusConflict
	}
	item.Status = to
	item.UpdatedAt = time.Now()
	s.items[id] = item
	return nil
}

// =============================================================================
// PATRONS
// =============================================================================

func (s *Store) CreatePatron(ctx context.Context, p patron.Patron) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.patrons {
		if other.Code == p.Code {
			return patron.ErrDuplicateCode
		}
	}
	s.patrons[p.ID] = p
	return nil
}

func (s *Store) GetPatron(ctx context.Context, id string) (patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patrons[id]
	if !ok {
		return patron.Patron{}, patron.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPatronByCode(ctx context.Context, code string) (patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patrons {
		if p.Code == code {
			return p, nil
		}
	}
	return patron.Patron{}, patron.ErrNotFound
}

func (s *Store) UpdatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patrons[p.ID]; !ok {
		return patron.Patron{}, patron.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	s.patrons[p.ID] = p
	return p, nil
}

func (s *Store) DeletePatron(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patrons[id]; !ok {
		return patron.ErrNotFound
	}
	for _, l := range s.loans {
		if l.PatronID == id {
			return patron.ErrHasLoans
		}
	}
	delete(s.patrons, id)
	return nil
}

func (s *Store) ListPatrons(ctx context.Context, f patron.Filter) ([]patron.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []patron.Patron
	for _, p := range s.patrons {
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.Search != "" && !matchesAny(f.Search, p.Code, p.FirstName, p.LastName, p.Email) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CountPatrons(ctx context.Context, f patron.Filter) (int, error) {
	patrons, err := s.ListPatrons(ctx, f)
	return len(patrons), err
}

// =============================================================================
// LOANS
// =============================================================================

func (s *Store) CreateLoan(ctx context.Context, l circulation.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = l
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}
	return l, nil
}

func (s *Store) GetLoanByCode(ctx context.Context, code string) (circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.loans {
		if l.Code == code {
			return l, nil
		}
	}
	return circulation.Loan{}, circulation.ErrLoanNotFound
}

func (s *Store) ListLoans(ctx context.Context, f circulation.Filter) ([]circulation.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []circulation.Loan
	for _, l := range s.loans {
		if s.loanMatches(l, f) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckoutDate.After(out[j].CheckoutDate) })
	return out, nil
}

func (s *Store) CountLoans(ctx context.Context, f circulation.Filter) (int, error) {
	loans, err := s.ListLoans(ctx, f)
	return len(loans), err
}

func (s *Store) loanMatches(l circulation.Loan, f circulation.Filter) bool {
	if f.Status != nil && l.Status != *f.Status {
		return false
	}
	if f.PatronID != "" && l.PatronID != f.PatronID {
		return false
	}
	if f.ItemID != "" && l.ItemID != f.ItemID {
		return false
	}
	if f.Year != 0 && l.CheckoutDate.Year() != f.Year {
		return false
	}
	if f.DueBefore != nil && (l.ReturnDate != nil || !l.DueDate.Before(*f.DueBefore)) {
		return false
	}
	if f.Search != "" {
		fields := []string{l.Code}
		if item, ok := s.items[l.ItemID]; ok {
			fields = append(fields, item.Code, item.Title)
		}
		if p, ok := s.patrons[l.PatronID]; ok {
			fields = append(fields, p.Code, p.FirstName, p.LastName)
		}
		if !matchesAny(f.Search, fields...) {
			return false
		}
	}
	return true
}

func (s *Store) CountActiveForPatron(ctx context.Context, patronID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.loans {
		if l.PatronID == patronID && l.ReturnDate == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) CloseLoan(ctx context.Context, id string, at time.Time, note string) (circulation.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}
	if l.ReturnDate != nil {
		return circulation.Loan{}, circulation.ErrLoanNotActive
	}
	returned := at
	l.ReturnDate = &returned
	l.Status = circulation.StatusReturned
	if note != "" {
		l.Notes = strings.TrimSpace(l.Notes + "\nReturn note: " + note)
	}
	l.UpdatedAt = at
	s.loans[id] = l
	return l, nil
}

func (s *Store) ExtendLoanDue(ctx context.Context, id string, due time.Time) (circulation.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}
	if l.ReturnDate != nil {
		return circulation.Loan{}, circulation.ErrLoanNotActive
	}
	l.DueDate = due
	l.UpdatedAt = time.Now()
	s.loans[id] = l
	return l, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.settings[key]
	if !ok {
		return "", settings.ErrNotFound
	}
	return set.Value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = settings.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return nil
}

func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]settings.Setting, 0, len(s.settings))
	for _, set := range s.settings {
		out = append(out, set)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) NextNumber(ctx context.Context, scope string, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[scope]
	if seq.year != year {
		seq = sequence{last: 0, year: year}
	}
	seq.last++
	s.sequences[scope] = seq
	return seq.last, nil
}

func (s *Store) PeekNumber(ctx context.Context, scope string, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.sequences[scope]
	if seq.year != year {
		return 1, nil
	}
	return seq.last + 1, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.audit {
		if f.LoanID != "" && e.LoanID != f.LoanID {
			continue
		}
		if f.PatronID != "" && e.PatronID != f.PatronID {
			continue
		}
		if f.ItemID != "" && e.ItemID != f.ItemID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.From != nil && e.At.Before(*f.From) {
			continue
		}
		if f.To != nil && e.At.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func matchesAny(needle string, fields ...string) bool {
	needle = strings.ToLower(needle)
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
