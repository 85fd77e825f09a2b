package handlers

import (
	"net/http"

	"rh-orchestrator/config"
)

// SettingsHandler exposes the runtime settings.
type SettingsHandler struct {
	store *config.SettingsStore
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store *config.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetSettings handles GET /v1/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"settings": h.store.Get()}))
}

// UpdateSettings handles PUT /v1/settings. Values are clamped, not
// rejected.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		badRequest(w, "settings must be an object")
		return
	}
	s, err := h.store.Update(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"settings": s}))
}
