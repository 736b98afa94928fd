/*
handlers.go - HTTP handler context and shared helpers

PURPOSE:
  Exposes the circulation engine and its supporting services over REST.
  Handlers parse and validate the request, call domain logic, and render
  DTOs. No business rules live here.

ERROR HANDLING:
  Domain errors map to HTTP status by class:
  - 400: validation failures, rejected loan periods, ineligible patrons
  - 404: unknown item/patron/loan/setting
  - 409: status conflicts, duplicate codes, deletes blocked by loans
  - 500: storage and other unexpected errors

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: route wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/helmecke/minibiblio/audit"
	"github.com/helmecke/minibiblio/catalog"
	"github.com/helmecke/minibiblio/circulation"
	"github.com/helmecke/minibiblio/csvimport"
	"github.com/helmecke/minibiblio/patron"
	"github.com/helmecke/minibiblio/reporting"
	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *circulation.Engine
	Items    catalog.Store
	Patrons  patron.Store
	Settings settings.Provider
	Reporter *reporting.Reporter
	Audit    audit.Log
	Importer *csvimport.Importer
}

// Deps bundles the services a Handler needs.
type Deps struct {
	Engine   *circulation.Engine
	Items    catalog.Store
	Patrons  patron.Store
	Settings settings.Provider
	Reporter *reporting.Reporter
	Audit    audit.Log
	Importer *csvimport.Importer
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		Engine:   d.Engine,
		Items:    d.Items,
		Patrons:  d.Patrons,
		Settings: d.Settings,
		Reporter: d.Reporter,
		Audit:    d.Audit,
		Importer: d.Importer,
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decodeBody parses and validates a JSON request body. On failure it writes
// a 400 response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps a domain error to an HTTP response.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case circulation.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case circulation.IsConflict(err),
		errors.Is(err, catalog.ErrDuplicateCode),
		errors.Is(err, patron.ErrDuplicateCode),
		errors.Is(err, catalog.ErrHasLoans),
		errors.Is(err, patron.ErrHasLoans),
		errors.Is(err, catalog.ErrActiveLoan):
		writeError(w, http.StatusConflict, message, err)
	case circulation.IsPreconditionFailed(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
