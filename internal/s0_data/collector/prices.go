package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// PriceCollector fans per-instrument price fetches out over a bounded worker pool
// ⭐ SSOT: 유니버스 가격 수집은 이 타입에서만
type PriceCollector struct {
	fetcher contracts.PriceFetcher
	policy  retry.Policy
	workers int
	logger  *logger.Logger
}

// NewPriceCollector creates a collector; each fetch is retried with policy
func NewPriceCollector(fetcher contracts.PriceFetcher, policy retry.Policy, workers int, log *logger.Logger) *PriceCollector {
	if workers < 1 {
		workers = 1
	}
	l := log.WithField("module", "collector.prices")
	if policy.Name == "" {
		policy.Name = "fetch prices"
	}
	return &PriceCollector{
		fetcher: fetcher,
		policy:  policy.WithLogging(l),
		workers: workers,
		logger:  l,
	}
}

// FetchResult is the outcome of one instrument fetch
type FetchResult struct {
	StockCode  string
	PriceCount int
	Duration   time.Duration
}

// Collect fetches every code over [from, to]. All fetches complete before it
// returns; the first failure cancels the rest and fails the whole collection.
// The merged batch keeps the order of codes.
func (c *PriceCollector) Collect(ctx context.Context, codes []string, from, to time.Time) (contracts.PriceBatch, []FetchResult, error) {
	start := time.Now()
	c.logger.WithFields(map[string]interface{}{
		"stock_count": len(codes),
		"from":        from.Format("2006-01-02"),
		"to":          to.Format("2006-01-02"),
		"workers":     c.workers,
	}).Info("Starting price collection")

	batches := make([]contracts.PriceBatch, len(codes))
	results := make([]FetchResult, len(codes))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	// Start workers
	for w := 0; w < c.workers; w++ {
		workerID := w
		g.Go(func() error {
			for i := range jobs {
				code := codes[i]
				t0 := time.Now()

				batch, err := retry.DoValue(gctx, c.policy, func(ctx context.Context) (contracts.PriceBatch, error) {
					return c.fetcher.FetchPrices(ctx, code, from, to)
				})
				if err != nil {
					c.logger.WithError(err).WithFields(map[string]interface{}{
						"worker":     workerID,
						"stock_code": code,
					}).Error("Failed to fetch prices")
					return fmt.Errorf("fetch prices %s: %w", code, err)
				}

				batches[i] = batch
				results[i] = FetchResult{StockCode: code, PriceCount: len(batch.Rows), Duration: time.Since(t0)}

				if n := done.Add(1); n%50 == 0 {
					c.logger.WithFields(map[string]interface{}{"done": n, "total": len(codes)}).Info("Price collection progress")
				}
			}
			return nil
		})
	}

	// Send codes to workers
	g.Go(func() error {
		defer close(jobs)
		for i := range codes {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return contracts.PriceBatch{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return contracts.PriceBatch{}, nil, err
	}

	merged := contracts.MergeBatches(batches)
	c.logger.WithFields(map[string]interface{}{
		"stocks":   len(codes),
		"rows":     len(merged.Rows),
		"duration": time.Since(start).String(),
	}).Info("Price collection completed")
	return merged, results, nil
}
