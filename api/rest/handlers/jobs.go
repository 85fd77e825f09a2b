package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"rh-orchestrator/core/models"
	"rh-orchestrator/core/scheduler"
)

// JobRunner is the part of the scheduler the job endpoints use.
type JobRunner interface {
	Submit(req scheduler.SubmitRequest) (models.Job, error)
	GetJob(id string) (models.Job, error)
	ListJobs() []models.Job
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	scheduler JobRunner
}

// NewJobHandler creates a new job handler
func NewJobHandler(sched JobRunner) *JobHandler {
	return &JobHandler{scheduler: sched}
}

// SubmitJob handles POST /v1/jobs
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateID string          `json:"templateId"`
		ProfileID  string          `json:"profileId"`
		Payload    json.RawMessage `json:"payload"`
		NoAuth     bool            `json:"noAuth"`
		Token      interface{}     `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	req := scheduler.SubmitRequest{
		TemplateID: body.TemplateID,
		ProfileID:  body.ProfileID,
		NoAuth:     body.NoAuth,
	}
	if tok, isString := body.Token.(string); isString {
		req.Token = tok
	}
	// Only an object replaces the template payload.
	if len(body.Payload) > 0 {
		var override map[string]interface{}
		if err := json.Unmarshal(body.Payload, &override); err == nil && override != nil {
			req.Payload = override
		}
	}

	job, err := h.scheduler.Submit(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok(map[string]interface{}{"job": job}))
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.GetJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"job": job}))
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.ListJobs()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, ok(map[string]interface{}{"jobs": jobs}))
}
