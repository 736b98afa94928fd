package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// PATRON HANDLERS
// =============================================================================

// renderPatron attaches the live borrowed count to a patron response.
func (h *Handler) renderPatron(r *http.Request, p patron.Patron) PatronDTO {
	active := circulation.StatusActive
	borrowed, err := h.Engine.Count(r.Context(), circulation.Filter{Status: &active, PatronID: p.ID})
	if err != nil {
		borrowed = 0
	}
	return toPatronDTO(p, borrowed)
}

// CreatePatron registers a patron. An empty membership_code draws the next
// code from the running sequence.
func (h *Handler) CreatePatron(w http.ResponseWriter, r *http.Request) {
	var req PatronRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := time.Now()
	code := req.Code
	if code == "" {
		generated, err := settings.NextMemberCode(r.Context(), h.Settings)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to generate membership code", err)
			return
		}
		code = generated
	}

	status := patron.Status(req.Status)
	if req.Status == "" {
		status = patron.StatusActive
	}

	p := patron.Patron{
		ID:          uuid.NewString(),
		Code:        code,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		Status:      status,
		BorrowLimit: req.BorrowLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Patrons.Create(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to create patron", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.renderPatron(r, p))
}

// GetPatron returns a single patron with their current borrowed count.
func (h *Handler) GetPatron(w http.ResponseWriter, r *http.Request) {
	p, err := h.Patrons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get patron", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderPatron(r, p))
}

// UpdatePatron replaces the mutable fields of a patron, including status.
// Suspending a patron blocks new checkouts but never open returns.
func (h *Handler) UpdatePatron(w http.ResponseWriter, r *http.Request) {
	var req PatronRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Patrons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get patron", err)
		return
	}

	if req.Code != "" {
		p.Code = req.Code
	}
	if req.Status != "" {
		p.Status = patron.Status(req.Status)
	}
	p.FirstName = req.FirstName
	p.LastName = req.LastName
	p.Email = req.Email
	p.Phone = req.Phone
	p.BorrowLimit = req.BorrowLimit
	p.UpdatedAt = time.Now()

	updated, err := h.Patrons.Update(r.Context(), p)
	if err != nil {
		writeDomainError(w, "Failed to update patron", err)
		return
	}
	writeJSON(w, http.StatusOK, h.renderPatron(r, updated))
}

// DeletePatron removes a patron with no loan history.
func (h *Handler) DeletePatron(w http.ResponseWriter, r *http.Request) {
	if err := h.Patrons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete patron", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func patronFilterFromQuery(r *http.Request) patron.Filter {
	q := r.URL.Query()
	f := patron.Filter{Search: q.Get("search")}
	if s := q.Get("status"); s != "" {
		status := patron.Status(s)
		f.Status = &status
	}
	return f
}

// ListPatrons returns patrons matching the query filter.
func (h *Handler) ListPatrons(w http.ResponseWriter, r *http.Request) {
	patrons, err := h.Patrons.List(r.Context(), patronFilterFromQuery(r))
	if err != nil {
		writeDomainError(w, "Failed to list patrons", err)
		return
	}

	dtos := make([]PatronDTO, len(patrons))
	for i, p := range patrons {
		dtos[i] = h.renderPatron(r, p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CountPatrons returns the number of patrons matching the query filter.
func (h *Handler) CountPatrons(w http.ResponseWriter, r *http.Request) {
	n, err := h.Patrons.Count(r.Context(), patronFilterFromQuery(r))
	if err != nil {
		writeDomainError(w, "Failed to count patrons", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}
