package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helmecke/minibiblio/audit"
)

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// PatronHistoryReport returns the full loan history for one patron.
func (h *Handler) PatronHistoryReport(w http.ResponseWriter, r *http.Request) {
	history, err := h.Reporter.PatronHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to build patron history", err)
		return
	}
	writeJSON(w, http.StatusOK, toPatronHistoryDTO(history))
}

// ItemHistoryReport returns the full loan history for one catalog item.
func (h *Handler) ItemHistoryReport(w http.ResponseWriter, r *http.Request) {
	history, err := h.Reporter.ItemHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to build item history", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemHistoryDTO(history))
}

// YearlyStatisticsReport aggregates loans by checkout year. ?year= defaults
// to the current year, ?top= caps the top-borrowed list.
func (h *Handler) YearlyStatisticsReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var year, topN int
	var err error
	if s := q.Get("year"); s != "" {
		if year, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year parameter", err)
			return
		}
	}
	if s := q.Get("top"); s != "" {
		if topN, err = strconv.Atoi(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid top parameter", err)
			return
		}
	}

	stats, err := h.Reporter.YearlyStatistics(r.Context(), year, topN)
	if err != nil {
		writeDomainError(w, "Failed to build yearly statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, toYearlyStatisticsDTO(stats))
}

// OverdueReport lists overdue loans with accrued fees at the configured
// per-day rate.
func (h *Handler) OverdueReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reporter.OverdueReport(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to build overdue report", err)
		return
	}
	writeJSON(w, http.StatusOK, toOverdueReportDTO(report))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries newest first, optionally narrowed by
// loan, patron, item, action, or time window.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		LoanID:   q.Get("loan_id"),
		PatronID: q.Get("patron_id"),
		ItemID:   q.Get("catalog_item_id"),
		Action:   q.Get("action"),
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from parameter", err)
			return
		}
		f.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to parameter", err)
			return
		}
		f.To = &t
	}

	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}
