package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-etl/internal/api/handlers"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// NewRouter builds the status API.
// jobsHandler may be nil when no scheduler runs in the process.
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(runsHandler *handlers.RunsHandler, jobsHandler *handlers.JobsHandler, log *logger.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", runsHandler.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/runs", runsHandler.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", runsHandler.GetRun).Methods(http.MethodGet)

	if jobsHandler != nil {
		api.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{name}/history", jobsHandler.GetJobHistory).Methods(http.MethodGet)
		api.HandleFunc("/jobs/{name}/run", jobsHandler.RunJob).Methods(http.MethodPost)
	}

	log = log.WithField("module", "api")
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))
	return r
}

// statusRecorder captures the response code for request logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request; 5xx at error level, the rest at debug
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start).String(),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Error("HTTP request failed")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}

// recoveryMiddleware turns handler panics into 500 responses
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
