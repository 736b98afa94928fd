package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/csvimport"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// CreateItem adds a catalog item. An empty catalog_code draws the next code
// from the year-scoped sequence.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := time.Now()
	code := req.Code
	if code == "" {
		generated, err := settings.NextCatalogCode(r.Context(), h.Settings, now)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to generate catalog code", err)
			return
		}
		code = generated
	}

	itemType := catalog.Type(req.Type)
	if req.Type == "" {
		itemType = catalog.TypeBook
	}

	item := catalog.Item{
		ID:          uuid.NewString(),
		Code:        code,
		Type:        itemType,
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Publisher:   req.Publisher,
		Year:        req.Year,
		Description: req.Description,
		Genre:       req.Genre,
		Language:    req.Language,
		Location:    req.Location,
		Status:      catalog.StatusAvailable,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Items.Create(r.Context(), item); err != nil {
		writeDomainError(w, "Failed to create catalog item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// GetItem returns a single catalog item.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Items.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get catalog item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// LookupItem resolves a catalog code to an item. Codes contain slashes
// ("17/25"), so the code travels as a query parameter.
func (h *Handler) LookupItem(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing code parameter", nil)
		return
	}
	item, err := h.Items.GetByCode(r.Context(), code)
	if err != nil {
		writeDomainError(w, "Failed to look up catalog item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// UpdateItem replaces the descriptive fields of an item. Status changes go
// through the dedicated status endpoint.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.Items.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get catalog item", err)
		return
	}

	if req.Code != "" {
		item.Code = req.Code
	}
	if req.Type != "" {
		item.Type = catalog.Type(req.Type)
	}
	item.Title = req.Title
	item.Author = req.Author
	item.ISBN = req.ISBN
	item.Publisher = req.Publisher
	item.Year = req.Year
	item.Description = req.Description
	item.Genre = req.Genre
	item.Language = req.Language
	item.Location = req.Location
	item.UpdatedAt = time.Now()

	updated, err := h.Items.Update(r.Context(), item)
	if err != nil {
		writeDomainError(w, "Failed to update catalog item", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(updated))
}

// SetItemStatus applies a manual status edit (damaged, lost, repaired).
// Releasing an item back to available is refused while a loan is open.
func (h *Handler) SetItemStatus(w http.ResponseWriter, r *http.Request) {
	var req ItemStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.Items.SetStatus(r.Context(), chi.URLParam(r, "id"), catalog.Status(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to change item status", err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// DeleteItem removes an item that has never been on loan.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Items.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete catalog item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func itemFilterFromQuery(r *http.Request) catalog.Filter {
	q := r.URL.Query()
	f := catalog.Filter{Search: q.Get("search")}
	if s := q.Get("status"); s != "" {
		status := catalog.Status(s)
		f.Status = &status
	}
	if t := q.Get("type"); t != "" {
		itemType := catalog.Type(t)
		f.Type = &itemType
	}
	return f
}

// ListItems returns catalog items matching the query filter.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Items.List(r.Context(), itemFilterFromQuery(r))
	if err != nil {
		writeDomainError(w, "Failed to list catalog items", err)
		return
	}

	dtos := make([]ItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CountItems returns the number of items matching the query filter.
func (h *Handler) CountItems(w http.ResponseWriter, r *http.Request) {
	n, err := h.Items.Count(r.Context(), itemFilterFromQuery(r))
	if err != nil {
		writeDomainError(w, "Failed to count catalog items", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// =============================================================================
// CSV IMPORT
// =============================================================================

// PreviewImport parses an uploaded CSV and reports per-row validation
// without writing anything.
func (h *Handler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	preview, err := h.Importer.Preview(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse CSV", err)
		return
	}
	writeJSON(w, http.StatusOK, toImportPreviewDTO(preview))
}

// ImportCSV imports catalog items from an uploaded CSV. ?duplicates=update
// overwrites existing items by catalog code; the default skips them.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	opts := csvimport.Options{Duplicates: csvimport.DuplicateSkip}
	if r.URL.Query().Get("duplicates") == "update" {
		opts.Duplicates = csvimport.DuplicateUpdate
	}

	result, err := h.Importer.Import(r.Context(), r.Body, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Import failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toImportResultDTO(result))
}
