package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"rh-orchestrator/core/importer"
	"rh-orchestrator/core/repository"
)

// TemplateHandler handles template CRUD and import/export.
type TemplateHandler struct {
	repo *repository.TemplateRepository
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(repo *repository.TemplateRepository) *TemplateHandler {
	return &TemplateHandler{repo: repo}
}

// ListTemplates handles GET /v1/templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"templates": nonNil(templates)}))
}

// CreateTemplate handles POST /v1/templates
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		badRequest(w, "template must be an object")
		return
	}
	t, err := h.repo.CreateTemplate(body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"template": t}))
}

// UpdateTemplate handles PUT /v1/templates/{id}
func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeObject(r)
	if err != nil {
		badRequest(w, "template must be an object")
		return
	}
	t, err := h.repo.UpdateTemplate(mux.Vars(r)["id"], body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"template": t}))
}

// DeleteTemplate handles DELETE /v1/templates/{id}
func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteTemplate(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(nil))
}

// ImportTemplates handles POST /v1/templates/import. The body may be JSON
// or YAML.
func (h *TemplateHandler) ImportTemplates(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read body")
		return
	}
	raws, err := importer.ParseTemplates(data)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	total, err := h.repo.ImportTemplates(raws)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"count": total, "imported": len(raws)}))
}

// ExportTemplates handles GET /v1/templates/export
func (h *TemplateHandler) ExportTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repo.ListTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "templates.json"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemaVersion": 1, "templates": nonNil(templates)})
}

// nonNil keeps empty lists encoding as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
