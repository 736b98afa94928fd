package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
)

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// renderLoan joins the item and patron onto a loan for the response. Missing
// rows render as empty summaries rather than failing the whole request.
func (h *Handler) renderLoan(r *http.Request, l circulation.Loan) LoanDTO {
	var it catalog.Item
	var p patron.Patron
	if found, err := h.Items.Get(r.Context(), l.ItemID); err == nil {
		it = found
	}
	if found, err := h.Patrons.Get(r.Context(), l.PatronID); err == nil {
		p = found
	}
	return toLoanDTO(l, it, p, time.Now())
}

func (h *Handler) renderLoans(r *http.Request, loans []circulation.Loan) []LoanDTO {
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = h.renderLoan(r, l)
	}
	return dtos
}

// Checkout creates a loan for an available item and an eligible patron.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := h.Engine.Checkout(r.Context(), circulation.CheckoutRequest{
		PatronID: req.PatronID,
		ItemID:   req.ItemID,
		DueDays:  req.DueDays,
		Notes:    req.Notes,
	})
	if err != nil {
		writeDomainError(w, "Checkout failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.renderLoan(r, loan))
}

// ReturnLoan closes a loan and releases its item.
func (h *Handler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := h.Engine.Return(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeDomainError(w, "Return failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderLoan(r, loan))
}

// ExtendLoan pushes the due date of an active loan.
func (h *Handler) ExtendLoan(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	loan, err := h.Engine.Extend(r.Context(), chi.URLParam(r, "id"), req.AdditionalDays)
	if err != nil {
		writeDomainError(w, "Extend failed", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderLoan(r, loan))
}

// GetLoan returns a single loan.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get loan", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderLoan(r, loan))
}

// loanFilterFromQuery parses the list/count query parameters.
func loanFilterFromQuery(r *http.Request) (circulation.Filter, error) {
	q := r.URL.Query()
	f := circulation.Filter{
		PatronID: q.Get("patron_id"),
		ItemID:   q.Get("catalog_item_id"),
		Search:   q.Get("search"),
	}
	if s := q.Get("status"); s != "" {
		status := circulation.Status(s)
		f.Status = &status
	}
	if y := q.Get("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return f, err
		}
		f.Year = year
	}
	return f, nil
}

// ListLoans returns loans matching the query filter, newest first. Status
// accepts the derived "overdue" value.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	f, err := loanFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameter", err)
		return
	}

	loans, err := h.Engine.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderLoans(r, loans))
}

// CountLoans returns the number of loans matching the query filter.
func (h *Handler) CountLoans(w http.ResponseWriter, r *http.Request) {
	f, err := loanFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameter", err)
		return
	}

	n, err := h.Engine.Count(r.Context(), f)
	if err != nil {
		writeDomainError(w, "Failed to count loans", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ListOverdueLoans returns open loans past their due date, most overdue
// first.
func (h *Handler) ListOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Engine.ListOverdue(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list overdue loans", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderLoans(r, loans))
}
