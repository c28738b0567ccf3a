package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"finetune-orchestrator/core/manager"
	"finetune-orchestrator/core/models"

	"github.com/gorilla/mux"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	mgr *manager.Manager
}

// NewJobHandler creates a new job handler
func NewJobHandler(mgr *manager.Manager) *JobHandler {
	return &JobHandler{mgr: mgr}
}

// CreateJobRequest represents the request to create a job
type CreateJobRequest struct {
	Name   string             `json:"name"`
	Config models.TrainConfig `json:"config"`
}

// CreateJob handles POST /v1/jobs
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.mgr.CreateJob(req.Name, req.Config)
	if err != nil {
		http.Error(w, "Failed to create job: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(jobResponse(job))
}

// GetJob handles GET /v1/jobs/{id}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.mgr.GetJob(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	resp := jobResponse(job)
	resp["output"] = job.Output
	resp["error"] = job.ErrorText
	resp["metrics"] = job.Metrics

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListJobs handles GET /v1/jobs
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.mgr.ListJobs()
	items := make([]map[string]interface{}, len(jobs))
	for i, job := range jobs {
		items[i] = jobResponse(job)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
}

// StartJob handles POST /v1/jobs/{id}/start
func (h *JobHandler) StartJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(id string) error { return h.mgr.StartJob(id) })
}

// PauseJob handles POST /v1/jobs/{id}/pause
func (h *JobHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.mgr.PauseJob)
}

// ResumeJob handles POST /v1/jobs/{id}/resume
func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.mgr.ResumeJob)
}

// StopJob handles POST /v1/jobs/{id}/stop
func (h *JobHandler) StopJob(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	h.control(w, r, func(id string) error { return h.mgr.StopJob(id, force) })
}

// ResetJob handles POST /v1/jobs/{id}/reset
func (h *JobHandler) ResetJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.mgr.ResetJob)
}

// EditJob handles PUT /v1/jobs/{id}
func (h *JobHandler) EditJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.control(w, r, func(id string) error { return h.mgr.EditJob(id, req.Config) })
}

// DeleteJob handles DELETE /v1/jobs/{id}
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.mgr.DeleteJob)
}

func (h *JobHandler) control(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := mux.Vars(r)["id"]
	if err := op(id); err != nil {
		status := http.StatusConflict
		if errors.Is(err, manager.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	job, err := h.mgr.GetJob(id)
	if err != nil {
		// Delete removes the job entirely.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobResponse(job))
}

func jobResponse(job models.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":                job.ID,
		"name":              job.Name,
		"status":            job.Status,
		"model":             job.Config.Model,
		"mode":              job.Config.Mode,
		"downloading":       job.Downloading,
		"download_progress": job.DownloadProgress,
		"timestamps": map[string]interface{}{
			"created_at":   job.CreatedAt,
			"started_at":   job.StartedAt,
			"completed_at": job.CompletedAt,
		},
	}
}
