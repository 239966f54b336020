package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// ErrJobRunning is returned when a job is triggered while its previous run is in flight
var ErrJobRunning = errors.New("job is already running")

// ErrJobNotFound is returned for unknown job names
var ErrJobNotFound = errors.New("job not found")

// Scheduler manages scheduled jobs
// ⭐ SSOT: 스케줄 관리는 이 스케줄러에서만
type Scheduler struct {
	cron    *cron.Cron
	logger  *logger.Logger
	jobs    map[string]Job
	history map[string]*JobHistory
	running map[string]bool
	mu      sync.RWMutex

	// 잡 전체 재시도 (적재가 멱등이므로 재실행 안전)
	policy retry.Policy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new scheduler. Schedules are cron expressions with seconds,
// evaluated in loc (nil = Local).
func New(policy retry.Policy, loc *time.Location, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		logger:  log.WithField("module", "scheduler"),
		jobs:    make(map[string]Job),
		history: make(map[string]*JobHistory),
		running: make(map[string]bool),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if policy.Name == "" {
		policy.Name = "job"
	}
	policy.Retryable = RetryableJobError
	s.policy = policy
	return s
}

// RetryableJobError reports whether a failed job run is worth repeating.
// Configuration, schema and empty-universe failures repeat identically.
func RetryableJobError(err error) bool {
	var (
		ce *contracts.ConfigError
		se *contracts.SchemaError
		ae *contracts.AuthError
		ee *contracts.EmptyUniverseError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &se), errors.As(err, &ae), errors.As(err, &ee):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// AddJob adds a job to the scheduler
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobName := job.Name()
	if _, exists := s.jobs[jobName]; exists {
		return fmt.Errorf("job %s already exists", jobName)
	}

	_, err := s.cron.AddFunc(job.Schedule(), func() {
		if _, err := s.runJob(s.ctx, job); errors.Is(err, ErrJobRunning) {
			s.logger.WithField("job", jobName).Warn("Previous run still in progress, skipping")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobName, err)
	}

	s.jobs[jobName] = job
	s.history[jobName] = &JobHistory{}

	s.logger.WithFields(map[string]interface{}{
		"job":      jobName,
		"schedule": job.Schedule(),
	}).Info("Job added to scheduler")

	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.cron.Start()
}

// Stop stops the cron loop, cancels running jobs and waits for them
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunJob triggers a job immediately (outside of schedule) and returns without waiting
func (s *Scheduler) RunJob(jobName string) error {
	job, err := s.job(jobName)
	if err != nil {
		return err
	}
	if s.isRunning(jobName) {
		return ErrJobRunning
	}

	go s.runJob(s.ctx, job)
	return nil
}

// RunNow runs a job synchronously and returns its result
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	job, err := s.job(jobName)
	if err != nil {
		return JobResult{}, err
	}
	return s.runJob(ctx, job)
}

func (s *Scheduler) job(jobName string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	return job, nil
}

func (s *Scheduler) isRunning(jobName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[jobName]
}

// runJob executes a job with retry logic. Overlapping runs of one job are refused.
func (s *Scheduler) runJob(ctx context.Context, job Job) (JobResult, error) {
	jobName := job.Name()

	s.mu.Lock()
	if s.running[jobName] {
		s.mu.Unlock()
		return JobResult{}, ErrJobRunning
	}
	s.running[jobName] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, jobName)
		s.mu.Unlock()
		s.wg.Done()
	}()

	log := s.logger.WithField("job", jobName)
	log.Info("Job started")
	startTime := time.Now()

	policy := s.policy
	policy.Name = jobName
	attempts := 0
	err := retry.Do(ctx, policy.WithLogging(log), func(ctx context.Context) error {
		attempts++
		return job.Run(ctx)
	})

	endTime := time.Now()
	result := JobResult{
		JobName:   jobName,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		Attempts:  attempts,
		Success:   err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	if history, exists := s.history[jobName]; exists {
		history.AddResult(result)
	}
	s.mu.Unlock()

	if err == nil {
		log.WithFields(map[string]interface{}{
			"duration": result.Duration.String(),
			"attempts": attempts,
		}).Info("Job completed successfully")
	} else {
		log.WithError(err).WithFields(map[string]interface{}{
			"duration": result.Duration.String(),
			"attempts": attempts,
		}).Error("Job failed")
	}
	return result, err
}

// GetJobHistory returns the latest n results of a job, oldest first
func (s *Scheduler) GetJobHistory(jobName string, n int) ([]JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, exists := s.history[jobName]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	latest := history.GetLatestResults(n)
	return append([]JobResult(nil), latest...), nil
}

// GetAllJobs returns the registered job names, sorted
func (s *Scheduler) GetAllJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]string, 0, len(s.jobs))
	for jobName := range s.jobs {
		jobs = append(jobs, jobName)
	}
	sort.Strings(jobs)
	return jobs
}

// GetJobStats returns statistics for all jobs
func (s *Scheduler) GetJobStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]JobStats, len(s.history))
	for jobName, history := range s.history {
		st := history.summarize()
		st.JobName = jobName
		st.Schedule = s.jobs[jobName].Schedule()
		st.Running = s.running[jobName]
		stats[jobName] = st
	}
	return stats
}

// JobStats summarizes the kept history of a job
type JobStats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	Running      bool       `json:"running"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}
