package scheduler

import (
	"context"
	"time"
)

// Job is one unit of scheduled work
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	Name() string

	// Schedule is a cron expression with seconds, e.g. "0 0 18 * * MON-FRI" or "@daily"
	Schedule() string

	// Run must be safe to repeat: the scheduler retries transient failures
	Run(ctx context.Context) error
}

// JobResult is one finished execution, retries included
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const maxHistory = 100

// JobHistory keeps the last maxHistory results of a job, oldest first.
// The scheduler guards it; not safe for concurrent use on its own.
type JobHistory struct {
	Results []JobResult
}

func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)
	if over := len(h.Results) - maxHistory; over > 0 {
		h.Results = append(h.Results[:0:0], h.Results[over:]...)
	}
}

// GetLatestResults returns the latest n results (n <= 0 returns all)
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n <= 0 || n > len(h.Results) {
		n = len(h.Results)
	}
	return h.Results[len(h.Results)-n:]
}

// summarize folds the kept results into stats (name, schedule, running left to the caller)
func (h *JobHistory) summarize() JobStats {
	st := JobStats{TotalRuns: len(h.Results)}
	for i := range h.Results {
		r := h.Results[i]
		st.LastRun = &r.StartTime
		if r.Success {
			st.SuccessCount++
			st.LastSuccess = &r.StartTime
			continue
		}
		st.FailureCount++
		st.LastFailure = &r.StartTime
		st.LastError = r.Error
	}
	if st.TotalRuns > 0 {
		st.SuccessRate = float64(st.SuccessCount) / float64(st.TotalRuns)
	}
	return st
}
