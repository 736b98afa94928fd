/*
Package csvimport loads catalog items from CSV exports.

The files come from older library tooling, so headers are matched
case-insensitively against both German and English names (Titel/Title,
Autor/Author, Verlag/Publisher, InventarNr./catalog_id, ...) and the
delimiter is sniffed from the header line (comma, semicolon, or tab).

Import is a two-step flow: Preview parses and validates without writing
anything, Import commits valid rows. Rows whose catalog code already exists
are skipped or updated depending on Options.Duplicates; an error row never
aborts the rest of the file.
*/
package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helmecke/minibiblio/catalog"
)

// =============================================================================
// COLUMN MAPPING
// =============================================================================

var (
	titleColumns     = []string{"titel", "title"}
	authorColumns    = []string{"autor", "author"}
	publisherColumns = []string{"verlag", "publisher"}
	genreColumns     = []string{"genres", "genre"}
	codeColumns      = []string{"inventarnr.", "inventarnr", "catalog_id", "inventory_number"}
	isbnColumns      = []string{"isbn"}
	yearColumns      = []string{"jahr", "year"}
)

// =============================================================================
// PREVIEW
// =============================================================================

type RowStatus string

const (
	RowValid   RowStatus = "valid"
	RowWarning RowStatus = "warning"
	RowError   RowStatus = "error"
)

type PreviewRow struct {
	RowNumber int
	Code      string
	Title     string
	Author    string
	Publisher string
	Genre     string
	ISBN      string
	Year      string
	Status    RowStatus
	Errors    []string
	Warnings  []string
}

type Preview struct {
	Rows         []PreviewRow
	TotalRows    int
	ValidRows    int
	WarningRows  int
	ErrorRows    int
	HasAuthor    bool
	HasPublisher bool
	Delimiter    rune
}

// =============================================================================
// IMPORT
// =============================================================================

type DuplicateMode string

const (
	// DuplicateSkip leaves existing items untouched.
	DuplicateSkip DuplicateMode = "skip"
	// DuplicateUpdate overwrites the descriptive fields of existing items.
	// Status is never touched by an import.
	DuplicateUpdate DuplicateMode = "update"
)

type Options struct {
	Duplicates      DuplicateMode // default: skip
	DefaultType     catalog.Type  // default: book
	DefaultLanguage string
}

type Result struct {
	Imported int
	Updated  int
	Skipped  int
	Failed   int
	Errors   []RowFailure
}

type RowFailure struct {
	RowNumber int
	Code      string
	Message   string
}

// =============================================================================
// IMPORTER
// =============================================================================

type Importer struct {
	items catalog.Store
	now   func() time.Time
}

func NewImporter(items catalog.Store) *Importer {
	return &Importer{items: items, now: time.Now}
}

// Preview parses and validates the CSV without writing anything.
func (im *Importer) Preview(r io.Reader) (Preview, error) {
	rows, delim, headers, err := parse(r)
	if err != nil {
		return Preview{}, err
	}

	p := Preview{
		Delimiter:    delim,
		HasAuthor:    findColumn(headers, authorColumns) >= 0,
		HasPublisher: findColumn(headers, publisherColumns) >= 0,
	}
	for _, row := range rows {
		p.Rows = append(p.Rows, row)
		p.TotalRows++
		switch row.Status {
		case RowValid:
			p.ValidRows++
		case RowWarning:
			p.WarningRows++
		case RowError:
			p.ErrorRows++
		}
	}
	return p, nil
}

// Import commits valid and warning rows. Error rows are counted as failed
// and reported, not fatal.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (Result, error) {
	if opts.Duplicates == "" {
		opts.Duplicates = DuplicateSkip
	}
	if opts.DefaultType == "" {
		opts.DefaultType = catalog.TypeBook
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "English"
	}

	rows, _, _, err := parse(r)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, row := range rows {
		if row.Status == RowError {
			res.Failed++
			res.Errors = append(res.Errors, RowFailure{
				RowNumber: row.RowNumber,
				Code:      row.Code,
				Message:   strings.Join(row.Errors, "; "),
			})
			continue
		}

		existing, err := im.items.GetByCode(ctx, row.Code)
		switch {
		case err == nil:
			if opts.Duplicates == DuplicateSkip {
				res.Skipped++
				continue
			}
			applyRow(&existing, row)
			if _, err := im.items.Update(ctx, existing); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, RowFailure{RowNumber: row.RowNumber, Code: row.Code, Message: err.Error()})
				continue
			}
			res.Updated++
		case errors.Is(err, catalog.ErrNotFound):
			now := im.now()
			item := catalog.Item{
				ID:        uuid.NewString(),
				Code:      row.Code,
				Type:      opts.DefaultType,
				Language:  opts.DefaultLanguage,
				Status:    catalog.StatusAvailable,
				CreatedAt: now,
				UpdatedAt: now,
			}
			applyRow(&item, row)
			if err := im.items.Create(ctx, item); err != nil {
				res.Failed++
				res.Errors = append(res.Errors, RowFailure{RowNumber: row.RowNumber, Code: row.Code, Message: err.Error()})
				continue
			}
			res.Imported++
		default:
			return res, err
		}
	}
	return res, nil
}

func applyRow(item *catalog.Item, row PreviewRow) {
	item.Title = row.Title
	if row.Author != "" {
		item.Author = row.Author
	}
	if row.Publisher != "" {
		item.Publisher = row.Publisher
	}
	if row.Genre != "" {
		item.Genre = row.Genre
	}
	if row.ISBN != "" {
		item.ISBN = row.ISBN
	}
	if y := parseYear(row.Year); y > 0 {
		item.Year = y
	}
}

func parseYear(s string) int {
	var y int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &y); err != nil {
		return 0
	}
	return y
}

// =============================================================================
// PARSING
// =============================================================================

func parse(r io.Reader) ([]PreviewRow, rune, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, nil, err
	}
	content := string(data)

	delim := sniffDelimiter(content)
	cr := csv.NewReader(strings.NewReader(content))
	cr.Comma = delim
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, 0, nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, delim, nil, errors.New("empty file")
	}

	headers := records[0]
	var rows []PreviewRow
	for i, rec := range records[1:] {
		row := PreviewRow{
			RowNumber: i + 1,
			Code:      pick(rec, headers, codeColumns),
			Title:     pick(rec, headers, titleColumns),
			Author:    pick(rec, headers, authorColumns),
			Publisher: pick(rec, headers, publisherColumns),
			Genre:     pick(rec, headers, genreColumns),
			ISBN:      pick(rec, headers, isbnColumns),
			Year:      pick(rec, headers, yearColumns),
		}
		validate(&row)
		rows = append(rows, row)
	}
	return rows, delim, headers, nil
}

// sniffDelimiter picks the candidate occurring most often in the header
// line. Comma wins ties.
func sniffDelimiter(content string) rune {
	header := content
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		header = content[:i]
	}
	best, bestCount := ',', strings.Count(header, ",")
	for _, c := range []rune{';', '\t'} {
		if n := strings.Count(header, string(c)); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func findColumn(headers []string, names []string) int {
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func pick(record []string, headers []string, names []string) string {
	i := findColumn(headers, names)
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func validate(row *PreviewRow) {
	if row.Title == "" {
		row.Errors = append(row.Errors, "title is required")
	}
	if row.Code == "" {
		row.Errors = append(row.Errors, "inventory number is required")
	}

	// "keine" = none, used by the legacy exports for missing ISBNs.
	if isbn := strings.ToLower(row.ISBN); isbn != "" && isbn != "keine" {
		digits := 0
		for _, c := range row.ISBN {
			if c >= '0' && c <= '9' {
				digits++
			}
		}
		if digits != 0 && digits != 10 && digits != 13 {
			row.Warnings = append(row.Warnings, fmt.Sprintf("ISBN %q may be invalid (expected 10 or 13 digits)", row.ISBN))
		}
	}

	switch {
	case len(row.Errors) > 0:
		row.Status = RowError
	case len(row.Warnings) > 0:
		row.Status = RowWarning
	default:
		row.Status = RowValid
	}
}
