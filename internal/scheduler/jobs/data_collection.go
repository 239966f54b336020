package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/aegis-etl/internal/s0_data/collector"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// ReferenceCollector refreshes the stock directory and market caps
type ReferenceCollector interface {
	CollectStocks(ctx context.Context, markets []string) ([]collector.MarketResult, error)
	CollectMarketCaps(ctx context.Context, markets []string) ([]collector.MarketResult, error)
}

// DataCollectionJob refreshes the reference tables the universe is selected from
// ⭐ SSOT: 기준 데이터 수집 스케줄은 이 Job에서만
type DataCollectionJob struct {
	collector ReferenceCollector
	markets   []string
	logger    *logger.Logger
}

// NewDataCollectionJob creates a new data collection job
func NewDataCollectionJob(col ReferenceCollector, markets []string, log *logger.Logger) *DataCollectionJob {
	return &DataCollectionJob{
		collector: col,
		markets:   markets,
		logger:    log.WithField("job", "data_collection"),
	}
}

// Name returns the job name
func (j *DataCollectionJob) Name() string {
	return "data_collection"
}

// Schedule returns the cron schedule (weekdays at 4 PM KST, after the close)
func (j *DataCollectionJob) Schedule() string {
	return "0 0 16 * * MON-FRI"
}

// Run collects the directory first so market caps of new listings have a stock row.
// A failed market does not stop the others; all failures are returned together.
func (j *DataCollectionJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled data collection")

	var errs []error
	if _, err := j.collector.CollectStocks(ctx, j.markets); err != nil {
		errs = append(errs, fmt.Errorf("collect stocks: %w", err))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := j.collector.CollectMarketCaps(ctx, j.markets); err != nil {
		errs = append(errs, fmt.Errorf("collect market caps: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	j.logger.Info("Scheduled data collection completed successfully")
	return nil
}
