package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/helmecke/minibiblio/catalog"
)

// =============================================================================
// CATALOG ITEMS
// =============================================================================

const itemColumns = `id, code, type, title, author, isbn, publisher, year,
	description, genre, language, location, status, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (catalog.Item, error) {
	var it catalog.Item
	var created, updated string
	err := row.Scan(&it.ID, &it.Code, &it.Type, &it.Title, &it.Author, &it.ISBN,
		&it.Publisher, &it.Year, &it.Description, &it.Genre, &it.Language,
		&it.Location, &it.Status, &created, &updated)
	if err != nil {
		return catalog.Item{}, err
	}
	it.CreatedAt = decodeTime(created)
	it.UpdatedAt = decodeTime(updated)
	return it, nil
}

func (s *Store) CreateItem(ctx context.Context, it catalog.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Code, it.Type, it.Title, it.Author, it.ISBN, it.Publisher,
		it.Year, it.Description, it.Genre, it.Language, it.Location, it.Status,
		encodeTime(it.CreatedAt), encodeTime(it.UpdatedAt))
	if isUniqueViolation(err) {
		return catalog.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return it, err
}

func (s *Store) GetItemByCode(ctx context.Context, code string) (catalog.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return it, err
}

func (s *Store) UpdateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	it.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_items
		SET code = ?, type = ?, title = ?, author = ?, isbn = ?, publisher = ?,
			year = ?, description = ?, genre = ?, language = ?, location = ?,
			updated_at = ?
		WHERE id = ?`,
		it.Code, it.Type, it.Title, it.Author, it.ISBN, it.Publisher, it.Year,
		it.Description, it.Genre, it.Language, it.Location,
		encodeTime(it.UpdatedAt), it.ID)
	if isUniqueViolation(err) {
		return catalog.Item{}, catalog.ErrDuplicateCode
	}
	if err != nil {
		return catalog.Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return s.GetItem(ctx, it.ID)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM catalog_items
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM loans WHERE item_id = ?)`,
		id, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM catalog_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if !ok {
			return catalog.ErrNotFound
		}
		return catalog.ErrHasLoans
	}
	return nil
}

func itemFilterSQL(f catalog.Filter) (string, []any) {
	var where []string
	var args []any
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Type != nil {
		where = append(where, "type = ?")
		args = append(args, *f.Type)
	}
	if f.Search != "" {
		where = append(where, `(LOWER(code) LIKE ? OR LOWER(title) LIKE ?
			OR LOWER(author) LIKE ? OR LOWER(isbn) LIKE ?)`)
		p := like(f.Search)
		args = append(args, p, p, p, p)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (s *Store) ListItems(ctx context.Context, f catalog.Filter) ([]catalog.Item, error) {
	where, args := itemFilterSQL(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items`+where+` ORDER BY code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) CountItems(ctx context.Context, f catalog.Filter) (int, error) {
	where, args := itemFilterSQL(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_items`+where, args...).Scan(&n)
	return n, err
}

// SetItemStatus applies a direct edit. A flip to "available" is refused
// while an active loan references the item.
func (s *Store) SetItemStatus(ctx context.Context, id string, to catalog.Status) (catalog.Item, error) {
	query := `UPDATE catalog_items SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{to, encodeTime(time.Now()), id}
	if to == catalog.StatusAvailable {
		query += ` AND NOT EXISTS (SELECT 1 FROM loans WHERE item_id = ? AND return_date IS NULL)`
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return catalog.Item{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM catalog_items WHERE id = ?`, id)
		if err != nil {
			return catalog.Item{}, err
		}
		if !ok {
			return catalog.Item{}, catalog.ErrNotFound
		}
		return catalog.Item{}, catalog.ErrActiveLoan
	}
	return s.GetItem(ctx, id)
}

// SetItemStatusIf is the conditional flip the circulation engine races on.
func (s *Store) SetItemStatusIf(ctx context.Context, id string, from, to catalog.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE catalog_items SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, encodeTime(time.Now()), id, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := s.rowExists(ctx, `SELECT 1 FROM catalog_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if !ok {
			return catalog.ErrNotFound
		}
		return catalog.ErrStatusConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
