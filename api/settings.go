package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helmecke/minibiblio/settings"
)

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// ListSettings returns every stored setting. Unset keys fall back to their
// defaults at read time and are not listed here.
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.Settings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settings", err)
		return
	}

	dtos := make([]SettingDTO, len(all))
	for i, s := range all {
		dtos[i] = SettingDTO{Key: s.Key, Value: s.Value, UpdatedAt: fmtTime(s.UpdatedAt)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSetting returns one stored setting by key, with its persisted update
// timestamp.
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	all, err := h.Settings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get setting", err)
		return
	}
	for _, s := range all {
		if s.Key == key {
			writeJSON(w, http.StatusOK, SettingDTO{Key: s.Key, Value: s.Value, UpdatedAt: fmtTime(s.UpdatedAt)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Setting not found", settings.ErrNotFound)
}

// UpdateSetting stores a setting value. Policy settings apply to the next
// checkout or extension; existing loans keep their dates.
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	if err := h.Settings.Set(r.Context(), key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update setting", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingDTO{Key: key, Value: req.Value, UpdatedAt: fmtTime(time.Now())})
}

// =============================================================================
// CATALOG CODE CONFIGURATION
// =============================================================================

// GetCodeConfig returns the catalog code format and the code the next item
// would receive, without consuming a sequence number.
func (h *Handler) GetCodeConfig(w http.ResponseWriter, r *http.Request) {
	dto, err := h.codeConfig(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read code configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// UpdateCodeConfig changes the catalog code format. The format must contain
// the {number} token; {year} is optional.
func (h *Handler) UpdateCodeConfig(w http.ResponseWriter, r *http.Request) {
	var req CodeConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Settings.Set(r.Context(), settings.KeyCatalogCodeFormat, req.Format); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update code configuration", err)
		return
	}

	dto, err := h.codeConfig(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read code configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// PreviewCode shows what the next catalog code would look like for an
// arbitrary format, without storing or consuming anything.
func (h *Handler) PreviewCode(w http.ResponseWriter, r *http.Request) {
	var req CodeConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	now := time.Now()
	n, err := h.Settings.PeekNumber(r.Context(), settings.ScopeCatalogCode, settings.CodeYear(now))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preview code", err)
		return
	}
	writeJSON(w, http.StatusOK, CodeConfigDTO{
		Format: req.Format,
		NextID: settings.FormatCode(req.Format, n, settings.CodeYear(now)),
	})
}

func (h *Handler) codeConfig(r *http.Request) (CodeConfigDTO, error) {
	format, err := h.Settings.Get(r.Context(), settings.KeyCatalogCodeFormat)
	if errors.Is(err, settings.ErrNotFound) {
		format = settings.DefaultCatalogCodeFormat
	} else if err != nil {
		return CodeConfigDTO{}, err
	}

	next, err := settings.PeekCatalogCode(r.Context(), h.Settings, time.Now())
	if err != nil {
		return CodeConfigDTO{}, err
	}
	return CodeConfigDTO{Format: format, NextID: next}, nil
}
