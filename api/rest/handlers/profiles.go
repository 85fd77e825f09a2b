package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"rh-orchestrator/config"
	"rh-orchestrator/core/credentials"
	"rh-orchestrator/core/importer"
	"rh-orchestrator/core/models"
	"rh-orchestrator/core/repository"
	"rh-orchestrator/providers/runninghub"
)

// ProfileHandler handles imported browser sessions.
type ProfileHandler struct {
	repo     *repository.ProfileRepository
	settings *config.SettingsStore
	remote   runninghub.Options
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(repo *repository.ProfileRepository, settings *config.SettingsStore, remote runninghub.Options) *ProfileHandler {
	return &ProfileHandler{repo: repo, settings: settings, remote: remote}
}

// ListProfiles handles GET /v1/profiles
func (h *ProfileHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.repo.ListProfiles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"profiles": nonNil(profiles)}))
}

// DeleteProfile handles DELETE /v1/profiles/{id}
func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteProfile(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil))
}

// ImportProfiles handles POST /v1/profiles/import
func (h *ProfileHandler) ImportProfiles(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read body")
		return
	}
	records, err := importer.ParseProfiles(data)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	added, total, err := h.repo.ImportProfiles(records)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"added": added, "count": total}))
}

// ExportProfiles handles GET /v1/profiles/export in the multi-record shape
// that ImportProfiles accepts.
func (h *ProfileHandler) ExportProfiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.ExportProfiles()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "multicookies.json"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemaVersion": 1, "records": records})
}

// RefreshUserInfo handles POST /v1/profiles/{id}/user-info. It asks the
// platform for the account's current coin balance and stores it on the
// profile. An optional body {"userId": "..."} overrides the account id.
func (h *ProfileHandler) RefreshUserInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	profile, err := h.repo.GetProfile(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		UserID interface{} `json:"userId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil && err != io.EOF {
		badRequest(w, "invalid request body")
		return
	}

	bundle, err := credentials.Resolve(profile.Host, profile.Record)
	if err != nil {
		writeError(w, err)
		return
	}

	userID := ""
	if s, isString := body.UserID.(string); isString {
		userID = strings.TrimSpace(s)
	}
	if userID == "" {
		userID = strings.TrimSpace(profile.UserID)
	}
	if userID == "" {
		userID = bundle.UserID()
	}
	if userID == "" {
		writeError(w, fmt.Errorf("missing userId (record userInfo.id): %w", models.ErrInvalidInput))
		return
	}

	opts := h.remote
	opts.RequestTimeout = h.settings.Get().RequestTimeout()
	client, _, err := runninghub.New(opts, &bundle)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := client.FetchUserInfo(r.Context(), bundle.AccessToken(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.repo.UpdateProfile(id, func(p *models.Profile) {
		p.UserID = userID
		p.TotalCoin = info.TotalCoin
		p.UserInfoUpdatedAt = models.Timestamp(time.Now())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{
		"profile":   updated,
		"userId":    userID,
		"totalCoin": info.TotalCoin,
	}))
}
