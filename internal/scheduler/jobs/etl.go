package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// Runner runs the pipeline for a list of market value dates
type Runner interface {
	RunAll(ctx context.Context, p pipeline.Params, dates []time.Time) ([]*pipeline.RunSummary, error)
}

// ParamsFunc resolves the parameters of a scheduled run at time now
type ParamsFunc func(now time.Time) (pipeline.Params, []time.Time, error)

// ETLJob runs the market-data pipeline on a schedule
// ⭐ SSOT: 정기 ETL 실행은 이 Job에서만
type ETLJob struct {
	runner   Runner
	params   ParamsFunc
	schedule string
	logger   *logger.Logger
	now      func() time.Time
}

// DefaultETLSchedule is weekdays at 6 PM, after the close and the reference data refresh
const DefaultETLSchedule = "0 0 18 * * MON-FRI"

// NewETLJob creates a new ETL job. An empty schedule uses DefaultETLSchedule.
func NewETLJob(runner Runner, params ParamsFunc, schedule string, log *logger.Logger) *ETLJob {
	if schedule == "" {
		schedule = DefaultETLSchedule
	}
	return &ETLJob{
		runner:   runner,
		params:   params,
		schedule: schedule,
		logger:   log.WithField("job", "etl"),
		now:      time.Now,
	}
}

// Name returns the job name
func (j *ETLJob) Name() string {
	return "etl"
}

// Schedule returns the cron schedule
func (j *ETLJob) Schedule() string {
	return j.schedule
}

// Run executes the pipeline for every resolved market value date
func (j *ETLJob) Run(ctx context.Context) error {
	p, dates, err := j.params(j.now())
	if err != nil {
		return fmt.Errorf("resolve params: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"dates": len(dates),
		"start": p.Start.Format("2006-01-02"),
		"end":   p.End.Format("2006-01-02"),
	}).Info("Starting scheduled ETL")

	summaries, err := j.runner.RunAll(ctx, p, dates)
	if err != nil {
		return err
	}

	for _, s := range summaries {
		j.logger.WithFields(map[string]interface{}{
			"run_id": s.RunID,
			"target": s.Target,
			"rows":   s.Panel.Rows,
		}).Info("Scheduled ETL run completed")
	}
	return nil
}

// RollingParams returns a ParamsFunc for a trailing window ending today.
// Settings dates, when present, take precedence and are re-run as is.
//
//	end   = today
//	start = end - windowDays
//	mvd   = last weekday before start
func RollingParams(base pipeline.Params, dates []time.Time, windowDays int) ParamsFunc {
	return func(now time.Time) (pipeline.Params, []time.Time, error) {
		p := base
		if len(dates) > 0 && !p.Start.IsZero() && !p.End.IsZero() {
			return p, dates, nil
		}
		if windowDays <= 0 {
			return p, nil, &contracts.ConfigError{Field: "window_days", Reason: "must be positive"}
		}

		p.End = contracts.DateOnly(now)
		p.Start = p.End.AddDate(0, 0, -windowDays)
		mvd := previousWeekday(p.Start)
		return p, []time.Time{mvd}, nil
	}
}

func previousWeekday(d time.Time) time.Time {
	d = d.AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
