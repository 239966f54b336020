package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// RunStore exposes finished pipeline runs
type RunStore interface {
	List(n int) []pipeline.RunSummary
	Get(runID string) (pipeline.RunSummary, bool)
}

// RunsHandler serves pipeline run summaries
// ⭐ SSOT: 실행 이력 API 핸들러는 이 구조체에서만
type RunsHandler struct {
	runs   RunStore
	logger *logger.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(runs RunStore, log *logger.Logger) *RunsHandler {
	return &RunsHandler{
		runs:   runs,
		logger: log,
	}
}

// RunsResponse is the run list payload
type RunsResponse struct {
	Count int                   `json:"count"`
	Runs  []pipeline.RunSummary `json:"runs"`
}

// ListRuns returns the latest runs, newest first
// GET /api/runs?limit=20
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r, 20)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected non-negative integer)")
		return
	}

	runs := h.runs.List(limit)
	respondJSON(w, http.StatusOK, RunsResponse{Count: len(runs), Runs: runs})
}

// GetRun returns a single run
// GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, ok := h.runs.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}
