package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", settings.ErrNotFound
	}
	return v, err
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, encodeTime(time.Now()))
	return err
}

func (s *Store) ListSettings(ctx context.Context) ([]settings.Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settings.Setting
	for rows.Next() {
		var set settings.Setting
		var updated string
		if err := rows.Scan(&set.Key, &set.Value, &updated); err != nil {
			return nil, err
		}
		set.UpdatedAt = decodeTime(updated)
		out = append(out, set)
	}
	return out, rows.Err()
}

// NextNumber issues the next number in scope, resetting when the year
// changes. The store mutex makes check-and-increment atomic; SQLite's single
// writer covers cross-process use.
func (s *Store) NextNumber(ctx context.Context, scope string, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO code_sequences (scope, last_number, last_year) VALUES (?, 1, ?)
		ON CONFLICT(scope) DO UPDATE SET
			last_number = CASE WHEN code_sequences.last_year = excluded.last_year
				THEN code_sequences.last_number + 1 ELSE 1 END,
			last_year = excluded.last_year`,
		scope, year)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		`SELECT last_number FROM code_sequences WHERE scope = ?`, scope).Scan(&n)
	return n, err
}

func (s *Store) PeekNumber(ctx context.Context, scope string, year int) (int, error) {
	var last, lastYear int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_number, last_year FROM code_sequences WHERE scope = ?`, scope).
		Scan(&last, &lastYear)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && lastYear != year) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) error {
	oldJSON, err := json.Marshal(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(e.NewValues)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, action, loan_id, loan_code, patron_id,
			item_id, description, old_values, new_values, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, encodeTime(e.At), e.Action, e.LoanID, e.LoanCode, e.PatronID,
		e.ItemID, e.Description, string(oldJSON), string(newJSON), e.Actor)
	return err
}

func (s *Store) QueryAudit(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var conds []string
	var args []any
	if f.LoanID != "" {
		conds = append(conds, "loan_id = ?")
		args = append(args, f.LoanID)
	}
	if f.PatronID != "" {
		conds = append(conds, "patron_id = ?")
		args = append(args, f.PatronID)
	}
	if f.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.From != nil {
		conds = append(conds, "at >= ?")
		args = append(args, encodeTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "at <= ?")
		args = append(args, encodeTime(*f.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, action, loan_id, loan_code, patron_id, item_id,
			description, old_values, new_values, actor
		FROM audit_log`+where+` ORDER BY at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var at, oldJSON, newJSON string
		if err := rows.Scan(&e.ID, &at, &e.Action, &e.LoanID, &e.LoanCode,
			&e.PatronID, &e.ItemID, &e.Description, &oldJSON, &newJSON, &e.Actor); err != nil {
			return nil, err
		}
		e.At = decodeTime(at)
		if err := json.Unmarshal([]byte(oldJSON), &e.OldValues); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(newJSON), &e.NewValues); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
