package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-etl/internal/scheduler"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// JobRunner is the scheduler surface the API needs
type JobRunner interface {
	GetJobStats() map[string]scheduler.JobStats
	GetJobHistory(jobName string, n int) ([]scheduler.JobResult, error)
	RunJob(jobName string) error
}

// JobsHandler serves scheduled job status and manual triggers
type JobsHandler struct {
	jobs   JobRunner
	logger *logger.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(jobs JobRunner, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		jobs:   jobs,
		logger: log,
	}
}

// ListJobs returns stats for every job, sorted by name
// GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	stats := h.jobs.GetJobStats()

	out := make([]scheduler.JobStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })

	respondJSON(w, http.StatusOK, out)
}

// GetJobHistory returns the latest results of one job
// GET /api/jobs/{name}/history?limit=20
func (h *JobsHandler) GetJobHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	limit, ok := queryLimit(r, 20)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected non-negative integer)")
		return
	}

	results, err := h.jobs.GetJobHistory(name, limit)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get job history")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve job history")
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// RunJob triggers a job outside its schedule
// POST /api/jobs/{name}/run
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := h.jobs.RunJob(name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job not found")
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		respondError(w, http.StatusConflict, "Job is already running")
		return
	case err != nil:
		h.logger.WithError(err).WithField("job", name).Error("Failed to trigger job")
		respondError(w, http.StatusInternalServerError, "Failed to trigger job")
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"job":    name,
	})
}
