/*
dto.go - Request and response types for the HTTP API

DTOs decouple the domain model from the wire contract. Responses render
derived values (loan status at the current time, patron borrowed counts)
that the domain computes on demand; requests carry validator/v10 tags and
are checked before any domain call.

Dates cross the wire as RFC3339 strings.
*/
package api

import (
	"time"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/csvimport"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/reporting"
)

// =============================================================================
// LOANS
// =============================================================================

type LoanDTO struct {
	ID           string          `json:"id"`
	Code         string          `json:"loan_code"`
	Item         ItemSummaryDTO  `json:"catalog_item"`
	Patron       PatronSummary   `json:"patron"`
	CheckoutDate string          `json:"checkout_date"`
	DueDate      string          `json:"due_date"`
	ReturnDate   *string         `json:"return_date,omitempty"`
	Status       string          `json:"status"` // derived: active, overdue, returned
	Notes        string          `json:"notes,omitempty"`
}

type ItemSummaryDTO struct {
	ID     string `json:"id"`
	Code   string `json:"catalog_code"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Type   string `json:"type"`
}

type PatronSummary struct {
	ID        string `json:"id"`
	Code      string `json:"membership_code"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type CheckoutRequest struct {
	PatronID string `json:"patron_id" validate:"required"`
	ItemID   string `json:"catalog_item_id" validate:"required"`
	DueDays  int    `json:"due_days" validate:"gte=0"` // 0 = policy default
	Notes    string `json:"notes" validate:"max=1000"`
}

type ReturnRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type ExtendRequest struct {
	AdditionalDays int `json:"additional_days" validate:"gte=0"` // 0 = policy default
}

type CountResponse struct {
	Count int `json:"count"`
}

// =============================================================================
// CATALOG
// =============================================================================

type ItemDTO struct {
	ID          string `json:"id"`
	Code        string `json:"catalog_code"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	ISBN        string `json:"isbn,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Year        int    `json:"year,omitempty"`
	Description string `json:"description,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Language    string `json:"language,omitempty"`
	Location    string `json:"location,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ItemRequest struct {
	Code        string `json:"catalog_code"` // empty = generate from sequence
	Type        string `json:"type" validate:"omitempty,oneof=book dvd cd magazine other"`
	Title       string `json:"title" validate:"required,max=500"`
	Author      string `json:"author" validate:"max=255"`
	ISBN        string `json:"isbn" validate:"max=20"`
	Publisher   string `json:"publisher" validate:"max=255"`
	Year        int    `json:"year" validate:"gte=0"`
	Description string `json:"description" validate:"max=5000"`
	Genre       string `json:"genre" validate:"max=100"`
	Language    string `json:"language" validate:"max=50"`
	Location    string `json:"location" validate:"max=100"`
}

type ItemStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available borrowed reserved damaged lost"`
}

// =============================================================================
// PATRONS
// =============================================================================

type PatronDTO struct {
	ID            string `json:"id"`
	Code          string `json:"membership_code"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Status        string `json:"status"`
	BorrowLimit   int    `json:"borrowing_limit,omitempty"`
	BorrowedCount int    `json:"current_borrowed_count"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type PatronRequest struct {
	Code        string `json:"membership_code"` // empty = generate from sequence
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	Phone       string `json:"phone" validate:"max=50"`
	Status      string `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	BorrowLimit int    `json:"borrowing_limit" validate:"gte=0"`
}

// =============================================================================
// SETTINGS
// =============================================================================

type SettingDTO struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

type SettingUpdateRequest struct {
	Value string `json:"value" validate:"required,max=500"`
}

type CodeConfigDTO struct {
	Format string `json:"format"`
	NextID string `json:"next_id"`
}

type CodeConfigRequest struct {
	Format string `json:"format" validate:"required,contains={number},max=50"`
}

// =============================================================================
// REPORTS
// =============================================================================

type PatronHistoryDTO struct {
	PatronID    string        `json:"patron_id"`
	PatronCode  string        `json:"membership_code"`
	PatronName  string        `json:"patron_name"`
	TotalLoans  int           `json:"total_loans"`
	ActiveLoans int           `json:"active_loans"`
	Loans       []HistoryLine `json:"loans"`
}

type ItemHistoryDTO struct {
	ItemID     string        `json:"catalog_item_id"`
	ItemCode   string        `json:"catalog_code"`
	Title      string        `json:"title"`
	Author     string        `json:"author,omitempty"`
	TotalLoans int           `json:"total_loans"`
	Loans      []HistoryLine `json:"loans"`
}

// HistoryLine is one loan in a patron or item history. The fields describing
// the other side of the loan are filled depending on which history it is.
type HistoryLine struct {
	LoanCode     string  `json:"loan_code"`
	ItemCode     string  `json:"catalog_code,omitempty"`
	Title        string  `json:"title,omitempty"`
	Author       string  `json:"author,omitempty"`
	PatronCode   string  `json:"membership_code,omitempty"`
	PatronName   string  `json:"patron_name,omitempty"`
	CheckoutDate string  `json:"checkout_date"`
	DueDate      string  `json:"due_date"`
	ReturnDate   *string `json:"return_date,omitempty"`
	Status       string  `json:"status"`
}

type YearlyStatisticsDTO struct {
	Year            int          `json:"year"`
	TotalLoans      int          `json:"total_loans"`
	DistinctItems   int          `json:"distinct_items"`
	DistinctPatrons int          `json:"distinct_patrons"`
	Monthly         [12]int      `json:"monthly_loans"`
	TopItems        []TopItemDTO `json:"top_items"`
}

type TopItemDTO struct {
	ItemID    string `json:"catalog_item_id"`
	ItemCode  string `json:"catalog_code"`
	Title     string `json:"title"`
	LoanCount int    `json:"loan_count"`
}

type OverdueReportDTO struct {
	AsOf      string           `json:"as_of"`
	FeePerDay string           `json:"fee_per_day"`
	TotalFees string           `json:"total_fees"`
	Lines     []OverdueLineDTO `json:"lines"`
}

type OverdueLineDTO struct {
	LoanCode    string `json:"loan_code"`
	ItemCode    string `json:"catalog_code"`
	Title       string `json:"title"`
	PatronCode  string `json:"membership_code"`
	PatronName  string `json:"patron_name"`
	DueDate     string `json:"due_date"`
	DaysOverdue int    `json:"days_overdue"`
	Fee         string `json:"fee"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID          string            `json:"id"`
	At          string            `json:"at"`
	Action      string            `json:"action"`
	LoanID      string            `json:"loan_id,omitempty"`
	LoanCode    string            `json:"loan_code,omitempty"`
	PatronID    string            `json:"patron_id,omitempty"`
	ItemID      string            `json:"catalog_item_id,omitempty"`
	Description string            `json:"description"`
	OldValues   map[string]string `json:"old_values,omitempty"`
	NewValues   map[string]string `json:"new_values,omitempty"`
	Actor       string            `json:"actor"`
}

// =============================================================================
// CSV IMPORT
// =============================================================================

type ImportPreviewDTO struct {
	Rows         []ImportRowDTO `json:"rows"`
	TotalRows    int            `json:"total_rows"`
	ValidRows    int            `json:"valid_rows"`
	WarningRows  int            `json:"warning_rows"`
	ErrorRows    int            `json:"error_rows"`
	HasAuthor    bool           `json:"has_author"`
	HasPublisher bool           `json:"has_publisher"`
	Delimiter    string         `json:"delimiter"`
}

type ImportRowDTO struct {
	RowNumber int      `json:"row_number"`
	Code      string   `json:"catalog_code"`
	Title     string   `json:"title"`
	Author    string   `json:"author,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	Genre     string   `json:"genre,omitempty"`
	ISBN      string   `json:"isbn,omitempty"`
	Year      string   `json:"year,omitempty"`
	Status    string   `json:"status"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

type ImportResultDTO struct {
	Imported int                `json:"imported"`
	Updated  int                `json:"updated"`
	Skipped  int                `json:"skipped"`
	Failed   int                `json:"failed"`
	Errors   []ImportFailureDTO `json:"errors,omitempty"`
}

type ImportFailureDTO struct {
	RowNumber int    `json:"row_number"`
	Code      string `json:"catalog_code,omitempty"`
	Message   string `json:"message"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func toItemDTO(it catalog.Item) ItemDTO {
	return ItemDTO{
		ID:          it.ID,
		Code:        it.Code,
		Type:        string(it.Type),
		Title:       it.Title,
		Author:      it.Author,
		ISBN:        it.ISBN,
		Publisher:   it.Publisher,
		Year:        it.Year,
		Description: it.Description,
		Genre:       it.Genre,
		Language:    it.Language,
		Location:    it.Location,
		Status:      string(it.Status),
		CreatedAt:   fmtTime(it.CreatedAt),
		UpdatedAt:   fmtTime(it.UpdatedAt),
	}
}

func toItemSummary(it catalog.Item) ItemSummaryDTO {
	return ItemSummaryDTO{
		ID:     it.ID,
		Code:   it.Code,
		Title:  it.Title,
		Author: it.Author,
		Type:   string(it.Type),
	}
}

func toPatronSummary(p patron.Patron) PatronSummary {
	return PatronSummary{
		ID:        p.ID,
		Code:      p.Code,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	}
}

func toPatronDTO(p patron.Patron, borrowed int) PatronDTO {
	return PatronDTO{
		ID:            p.ID,
		Code:          p.Code,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		Phone:         p.Phone,
		Status:        string(p.Status),
		BorrowLimit:   p.BorrowLimit,
		BorrowedCount: borrowed,
		CreatedAt:     fmtTime(p.CreatedAt),
		UpdatedAt:     fmtTime(p.UpdatedAt),
	}
}

func toPatronHistoryDTO(h reporting.PatronHistory) PatronHistoryDTO {
	dto := PatronHistoryDTO{
		PatronID:    h.PatronID,
		PatronCode:  h.PatronCode,
		PatronName:  h.PatronName,
		TotalLoans:  h.TotalLoans,
		ActiveLoans: h.ActiveLoans,
	}
	for _, l := range h.Loans {
		dto.Loans = append(dto.Loans, HistoryLine{
			LoanCode:     l.LoanCode,
			ItemCode:     l.ItemCode,
			Title:        l.Title,
			Author:       l.Author,
			CheckoutDate: fmtTime(l.CheckoutDate),
			DueDate:      fmtTime(l.DueDate),
			ReturnDate:   fmtTimePtr(l.ReturnDate),
			Status:       string(l.Status),
		})
	}
	return dto
}

func toItemHistoryDTO(h reporting.ItemHistory) ItemHistoryDTO {
	dto := ItemHistoryDTO{
		ItemID:     h.ItemID,
		ItemCode:   h.ItemCode,
		Title:      h.Title,
		Author:     h.Author,
		TotalLoans: h.TotalLoans,
	}
	for _, l := range h.Loans {
		dto.Loans = append(dto.Loans, HistoryLine{
			LoanCode:     l.LoanCode,
			PatronCode:   l.PatronCode,
			PatronName:   l.PatronName,
			CheckoutDate: fmtTime(l.CheckoutDate),
			DueDate:      fmtTime(l.DueDate),
			ReturnDate:   fmtTimePtr(l.ReturnDate),
			Status:       string(l.Status),
		})
	}
	return dto
}

func toYearlyStatisticsDTO(s reporting.YearlyStatistics) YearlyStatisticsDTO {
	dto := YearlyStatisticsDTO{
		Year:            s.Year,
		TotalLoans:      s.TotalLoans,
		DistinctItems:   s.DistinctItems,
		DistinctPatrons: s.DistinctPatrons,
		Monthly:         s.Monthly,
	}
	for _, t := range s.TopItems {
		dto.TopItems = append(dto.TopItems, TopItemDTO{
			ItemID:    t.ItemID,
			ItemCode:  t.ItemCode,
			Title:     t.Title,
			LoanCount: t.LoanCount,
		})
	}
	return dto
}

func toOverdueReportDTO(rep reporting.OverdueReport) OverdueReportDTO {
	dto := OverdueReportDTO{
		AsOf:      fmtTime(rep.AsOf),
		FeePerDay: rep.FeePerDay.String(),
		TotalFees: rep.TotalFees.String(),
	}
	for _, l := range rep.Lines {
		dto.Lines = append(dto.Lines, OverdueLineDTO{
			LoanCode:    l.LoanCode,
			ItemCode:    l.ItemCode,
			Title:       l.Title,
			PatronCode:  l.PatronCode,
			PatronName:  l.PatronName,
			DueDate:     fmtTime(l.DueDate),
			DaysOverdue: l.DaysOverdue,
			Fee:         l.Fee.String(),
		})
	}
	return dto
}

func toAuditEntryDTO(e audit.Entry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:          e.ID,
		At:          fmtTime(e.At),
		Action:      e.Action,
		LoanID:      e.LoanID,
		LoanCode:    e.LoanCode,
		PatronID:    e.PatronID,
		ItemID:      e.ItemID,
		Description: e.Description,
		OldValues:   e.OldValues,
		NewValues:   e.NewValues,
		Actor:       e.Actor,
	}
}

func toImportPreviewDTO(p csvimport.Preview) ImportPreviewDTO {
	dto := ImportPreviewDTO{
		TotalRows:    p.TotalRows,
		ValidRows:    p.ValidRows,
		WarningRows:  p.WarningRows,
		ErrorRows:    p.ErrorRows,
		HasAuthor:    p.HasAuthor,
		HasPublisher: p.HasPublisher,
		Delimiter:    string(p.Delimiter),
	}
	for _, row := range p.Rows {
		dto.Rows = append(dto.Rows, ImportRowDTO{
			RowNumber: row.RowNumber,
			Code:      row.Code,
			Title:     row.Title,
			Author:    row.Author,
			Publisher: row.Publisher,
			Genre:     row.Genre,
			ISBN:      row.ISBN,
			Year:      row.Year,
			Status:    string(row.Status),
			Errors:    row.Errors,
			Warnings:  row.Warnings,
		})
	}
	return dto
}

func toImportResultDTO(res csvimport.Result) ImportResultDTO {
	dto := ImportResultDTO{
		Imported: res.Imported,
		Updated:  res.Updated,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
	}
	for _, f := range res.Errors {
		dto.Errors = append(dto.Errors, ImportFailureDTO{
			RowNumber: f.RowNumber,
			Code:      f.Code,
			Message:   f.Message,
		})
	}
	return dto
}

func toLoanDTO(l circulation.Loan, it catalog.Item, p patron.Patron, now time.Time) LoanDTO {
	return LoanDTO{
		ID:           l.ID,
		Code:         l.Code,
		Item:         toItemSummary(it),
		Patron:       toPatronSummary(p),
		CheckoutDate: fmtTime(l.CheckoutDate),
		DueDate:      fmtTime(l.DueDate),
		ReturnDate:   fmtTimePtr(l.ReturnDate),
		Status:       string(l.StatusAt(now)),
		Notes:        l.Notes,
	}
}
