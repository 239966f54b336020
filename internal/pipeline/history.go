package pipeline

import "sync"

// DefaultHistorySize is the number of runs kept in memory
const DefaultHistorySize = 100

// History keeps the most recent run summaries, newest first
type History struct {
	mu    sync.RWMutex
	runs  []RunSummary
	limit int
}

// NewHistory creates a history bounded to limit entries
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{limit: limit}
}

// Add records a finished run
func (h *History) Add(s RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append([]RunSummary{s}, h.runs...)
	if len(h.runs) > h.limit {
		h.runs = h.runs[:h.limit]
	}
}

// List returns up to n runs, newest first (n <= 0 returns all)
func (h *History) List(n int) []RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.runs) {
		n = len(h.runs)
	}
	out := make([]RunSummary, n)
	copy(out, h.runs[:n])
	return out
}

// Get returns the run with the given id
func (h *History) Get(runID string) (RunSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, r := range h.runs {
		if r.RunID == runID {
			return r, true
		}
	}
	return RunSummary{}, false
}
