package handlers

import (
	"net/http"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// HealthResponse is the /health payload
type HealthResponse struct {
	Status  string     `json:"status"`
	Service string     `json:"service"`
	LastRun *RunStatus `json:"last_run,omitempty"`
}

// RunStatus is the short form of a run for health probes
type RunStatus struct {
	RunID       string          `json:"run_id"`
	Target      string          `json:"target,omitempty"`
	Stage       contracts.Stage `json:"stage"`
	FailedStage contracts.Stage `json:"failed_stage,omitempty"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Health reports liveness and the outcome of the latest run.
// A failed last run does not make the process unhealthy.
// GET /health
func (h *RunsHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Service: "aegis-etl"}
	if latest := h.runs.List(1); len(latest) > 0 {
		s := latest[0]
		resp.LastRun = &RunStatus{
			RunID:       s.RunID,
			Target:      s.Target,
			Stage:       s.Stage,
			FailedStage: s.FailedStage,
			FinishedAt:  s.FinishedAt,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
