package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/helmecke/minibiblio/circulation"
)

// =============================================================================
// LOANS
// =============================================================================

const loanColumns = `l.id, l.code, l.item_id, l.patron_id, l.checkout_date,
	l.due_date, l.return_date, l.status, l.notes, l.created_at, l.updated_at`

func scanLoan(row interface{ Scan(...any) error }) (circulation.Loan, error) {
	var l circulation.Loan
	var checkout, due, created, updated string
	var returned sql.NullString
	err := row.Scan(&l.ID, &l.Code, &l.ItemID, &l.PatronID, &checkout, &due,
		&returned, &l.Status, &l.Notes, &created, &updated)
	if err != nil {
		return circulation.Loan{}, err
	}
	l.CheckoutDate = decodeTime(checkout)
	l.DueDate = decodeTime(due)
	l.ReturnDate = decodeNullTime(returned)
	l.CreatedAt = decodeTime(created)
	l.UpdatedAt = decodeTime(updated)
	return l, nil
}

func (s *Store) CreateLoan(ctx context.Context, l circulation.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, code, item_id, patron_id, checkout_date,
			due_date, return_date, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Code, l.ItemID, l.PatronID, encodeTime(l.CheckoutDate),
		encodeTime(l.DueDate), encodeNullTime(l.ReturnDate), l.Status, l.Notes,
		encodeTime(l.CreatedAt), encodeTime(l.UpdatedAt))
	return err
}

func (s *Store) GetLoan(ctx context.Context, id string) (circulation.Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans l WHERE l.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}
	return l, err
}

func (s *Store) GetLoanByCode(ctx context.Context, code string) (circulation.Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans l WHERE l.code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return circulation.Loan{}, circulation.ErrLoanNotFound
	}
	return l, err
}

// loanFilterSQL builds WHERE and the join needed for text search across
// patron and item fields.
func loanFilterSQL(f circulation.Filter) (join, where string, args []any) {
	var conds []string
	if f.Status != nil {
		conds = append(conds, "l.status = ?")
		args = append(args, *f.Status)
	}
	if f.PatronID != "" {
		conds = append(conds, "l.patron_id = ?")
		args = append(args, f.PatronID)
	}
	if f.ItemID != "" {
		conds = append(conds, "l.item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.Year != 0 {
		conds = append(conds, "l.checkout_date LIKE ?")
		args = append(args, yearPrefix(f.Year))
	}
	if f.DueBefore != nil {
		conds = append(conds, "l.return_date IS NULL AND l.due_date < ?")
		args = append(args, encodeTime(*f.DueBefore))
	}
	if f.Search != "" {
		join = ` JOIN catalog_items i ON i.id = l.item_id
			JOIN patrons p ON p.id = l.patron_id`
		conds = append(conds, `(LOWER(l.code) LIKE ? OR LOWER(i.code) LIKE ?
			OR LOWER(i.title) LIKE ? OR LOWER(p.code) LIKE ?
			OR LOWER(p.first_name) LIKE ? OR LOWER(p.last_name) LIKE ?)`)
		pat := like(f.Search)
		args = append(args, pat, pat, pat, pat, pat, pat)
	}
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	return join, where, args
}

func (s *Store) ListLoans(ctx context.Context, f circulation.Filter) ([]circulation.Loan, error) {
	join, where, args := loanFilterSQL(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans l`+join+where+` ORDER BY l.checkout_date DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []circulation.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CountLoans(ctx context.Context, f circulation.Filter) (int, error) {
	join, where, args := loanFilterSQL(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans l`+join+where, args...).Scan(&n)
	return n, err
}

func (s *Store) CountActiveForPatron(ctx context.Context, patronID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE patron_id = ? AND return_date IS NULL`,
		patronID).Scan(&n)
	return n, err
}

// CloseLoan sets the return date only while the loan is still open. The
// loser of a concurrent return sees ErrLoanNotActive.
func (s *Store) CloseLoan(ctx context.Context, id string, at time.Time, note string) (circulation.Loan, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET return_date = ?, status = ?, updated_at = ?,
			notes = CASE WHEN ? = '' THEN notes
				ELSE TRIM(notes || char(10) || 'Return note: ' || ?) END
		WHERE id = ? AND return_date IS NULL`,
		encodeTime(at), circulation.StatusReturned, encodeTime(at),
		note, note, id)
	if err != nil {
		return circulation.Loan{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM loans WHERE id = ?`, id)
		if err != nil {
			return circulation.Loan{}, err
		}
		if !ok {
			return circulation.Loan{}, circulation.ErrLoanNotFound
		}
		return circulation.Loan{}, circulation.ErrLoanNotActive
	}
	return s.GetLoan(ctx, id)
}

// ExtendLoanDue moves the due date only while the loan is still open.
func (s *Store) ExtendLoanDue(ctx context.Context, id string, due time.Time) (circulation.Loan, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans SET due_date = ?, updated_at = ?
		WHERE id = ? AND return_date IS NULL`,
		encodeTime(due), encodeTime(time.Now()), id)
	if err != nil {
		return circulation.Loan{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM loans WHERE id = ?`, id)
		if err != nil {
			return circulation.Loan{}, err
		}
		if !ok {
			return circulation.Loan{}, circulation.ErrLoanNotFound
		}
		return circulation.Loan{}, circulation.ErrLoanNotActive
	}
	return s.GetLoan(ctx, id)
}
