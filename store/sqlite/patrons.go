package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/helmecke/minibiblio/patron"
)

// =============================================================================
// PATRONS
// =============================================================================

const patronColumns = `id, code, first_name, last_name, email, phone, status,
	borrow_limit, created_at, updated_at`

func scanPatron(row interface{ Scan(...any) error }) (patron.Patron, error) {
	var p patron.Patron
	var created, updated string
	err := row.Scan(&p.ID, &p.Code, &p.FirstName, &p.LastName, &p.Email,
		&p.Phone, &p.Status, &p.BorrowLimit, &created, &updated)
	if err != nil {
		return patron.Patron{}, err
	}
	p.CreatedAt = decodeTime(created)
	p.UpdatedAt = decodeTime(updated)
	return p, nil
}

func (s *Store) CreatePatron(ctx context.Context, p patron.Patron) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patrons (`+patronColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.FirstName, p.LastName, p.Email, p.Phone, p.Status,
		p.BorrowLimit, encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
	if isUniqueViolation(err) {
		return patron.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetPatron(ctx context.Context, id string) (patron.Patron, error) {
	p, err := scanPatron(s.db.QueryRowContext(ctx,
		`SELECT `+patronColumns+` FROM patrons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return patron.Patron{}, patron.ErrNotFound
	}
	return p, err
}

func (s *Store) GetPatronByCode(ctx context.Context, code string) (patron.Patron, error) {
	p, err := scanPatron(s.db.QueryRowContext(ctx,
		`SELECT `+patronColumns+` FROM patrons WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return patron.Patron{}, patron.ErrNotFound
	}
	return p, err
}

func (s *Store) UpdatePatron(ctx context.Context, p patron.Patron) (patron.Patron, error) {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrons
		SET code = ?, first_name = ?, last_name = ?, email = ?, phone = ?,
			status = ?, borrow_limit = ?, updated_at = ?
		WHERE id = ?`,
		p.Code, p.FirstName, p.LastName, p.Email, p.Phone, p.Status,
		p.BorrowLimit, encodeTime(p.UpdatedAt), p.ID)
	if isUniqueViolation(err) {
		return patron.Patron{}, patron.ErrDuplicateCode
	}
	if err != nil {
		return patron.Patron{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return patron.Patron{}, patron.ErrNotFound
	}
	return s.GetPatron(ctx, p.ID)
}

func (s *Store) DeletePatron(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM patrons
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM loans WHERE patron_id = ?)`,
		id, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM patrons WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if !ok {
			return patron.ErrNotFound
		}
		return patron.ErrHasLoans
	}
	return nil
}

func patronFilterSQL(f patron.Filter) (string, []any) {
	var where []string
	var args []any
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Search != "" {
		where = append(where, `(LOWER(code) LIKE ? OR LOWER(first_name) LIKE ?
			OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?)`)
		p := like(f.Search)
		args = append(args, p, p, p, p)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *Store) ListPatrons(ctx context.Context, f patron.Filter) ([]patron.Patron, error) {
	where, args := patronFilterSQL(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patronColumns+` FROM patrons`+where+` ORDER BY code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []patron.Patron
	for rows.Next() {
		p, err := scanPatron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountPatrons(ctx context.Context, f patron.Filter) (int, error) {
	where, args := patronFilterSQL(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patrons`+where, args...).Scan(&n)
	return n, err
}
