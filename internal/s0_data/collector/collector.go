package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/external/krx"
	"github.com/wonny/aegis-etl/internal/external/naver"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// CorpListSource downloads the listed-company directory of a market
type CorpListSource interface {
	FetchCorpList(ctx context.Context, market string) ([]krx.Company, error)
}

// MarketCapSource downloads the market-cap ranking of a market
type MarketCapSource interface {
	FetchAllMarketCaps(ctx context.Context, market string) ([]naver.MarketCapData, error)
}

// ReferenceStore persists reference data (s0_data.Repository)
type ReferenceStore interface {
	SaveStocks(ctx context.Context, companies []krx.Company) (int, error)
	MarkDelisted(ctx context.Context, market string, listed []string, asOf time.Time) (int64, error)
	SaveMarketCaps(ctx context.Context, caps []naver.MarketCapData) (int, error)
}

// Collector keeps data.stocks and data.market_cap fresh for universe selection
// ⭐ SSOT: 참조 데이터 수집 오케스트레이션은 이 패키지에서만
type Collector struct {
	corpList   CorpListSource
	marketCaps MarketCapSource
	store      ReferenceStore
	policy     retry.Policy
	logger     *logger.Logger
	now        func() time.Time
}

// NewCollector creates a new Collector instance
func NewCollector(
	corpList CorpListSource,
	marketCaps MarketCapSource,
	store ReferenceStore,
	policy retry.Policy,
	log *logger.Logger,
) *Collector {
	l := log.WithField("module", "collector")
	return &Collector{
		corpList:   corpList,
		marketCaps: marketCaps,
		store:      store,
		policy:     policy,
		logger:     l,
		now:        time.Now,
	}
}

// MarketResult is the outcome of one market
type MarketResult struct {
	Market   string
	Fetched  int
	Saved    int
	Delisted int64
	Error    error
}

// CollectStocks syncs the KRX company directory of each market into data.stocks.
// Stocks absent from a successfully fetched directory are marked delisted.
func (c *Collector) CollectStocks(ctx context.Context, markets []string) ([]MarketResult, error) {
	results := c.forEachMarket(ctx, markets, func(ctx context.Context, market string) MarketResult {
		res := MarketResult{Market: market}

		companies, err := retry.DoValue(ctx, c.retryPolicy("krx corp list "+market), func(ctx context.Context) ([]krx.Company, error) {
			return c.corpList.FetchCorpList(ctx, market)
		})
		if err != nil {
			res.Error = err
			return res
		}
		res.Fetched = len(companies)

		if res.Saved, err = c.store.SaveStocks(ctx, companies); err != nil {
			res.Error = err
			return res
		}

		codes := make([]string, len(companies))
		for i, co := range companies {
			codes[i] = co.Code
		}
		if res.Delisted, err = c.store.MarkDelisted(ctx, market, codes, contracts.DateOnly(c.now())); err != nil {
			res.Error = err
		}
		return res
	})

	return results, c.summarize("Stock collection completed", results)
}

// CollectMarketCaps saves today's market-cap ranking of each market into data.market_cap
func (c *Collector) CollectMarketCaps(ctx context.Context, markets []string) ([]MarketResult, error) {
	results := c.forEachMarket(ctx, markets, func(ctx context.Context, market string) MarketResult {
		res := MarketResult{Market: market}

		caps, err := retry.DoValue(ctx, c.retryPolicy("naver market cap "+market), func(ctx context.Context) ([]naver.MarketCapData, error) {
			return c.marketCaps.FetchAllMarketCaps(ctx, market)
		})
		if err != nil {
			res.Error = err
			return res
		}
		res.Fetched = len(caps)

		if res.Saved, err = c.store.SaveMarketCaps(ctx, caps); err != nil {
			res.Error = err
		}
		return res
	})

	return results, c.summarize("Market cap collection completed", results)
}

func (c *Collector) retryPolicy(name string) retry.Policy {
	p := c.policy
	p.Name = name
	return p.WithLogging(c.logger)
}

// forEachMarket runs fn for every market concurrently and returns results in market order
func (c *Collector) forEachMarket(ctx context.Context, markets []string, fn func(ctx context.Context, market string) MarketResult) []MarketResult {
	results := make([]MarketResult, len(markets))

	var wg sync.WaitGroup
	for i, market := range markets {
		wg.Add(1)
		go func(i int, market string) {
			defer wg.Done()
			results[i] = fn(ctx, market)
		}(i, market)
	}
	wg.Wait()

	return results
}

func (c *Collector) summarize(msg string, results []MarketResult) error {
	var errs []error
	for _, r := range results {
		fields := map[string]interface{}{
			"market":   r.Market,
			"fetched":  r.Fetched,
			"saved":    r.Saved,
			"delisted": r.Delisted,
		}
		if r.Error != nil {
			c.logger.WithError(r.Error).WithFields(fields).Error(msg)
			errs = append(errs, fmt.Errorf("%s: %w", r.Market, r.Error))
			continue
		}
		c.logger.WithFields(fields).Info(msg)
	}
	return errors.Join(errs...)
}
