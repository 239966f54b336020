package contracts

import (
	"context"
	"time"
)

// UniverseFetcher selects the ranked universe as of a reference date
// ⭐ SSOT: 유니버스 선정 인터페이스
type UniverseFetcher interface {
	FetchUniverse(ctx context.Context, q UniverseQuery) (*Universe, error)
}

// PriceFetcher returns the daily OHLCV history of one instrument over [from, to]
// ⭐ SSOT: 가격 수집 인터페이스
type PriceFetcher interface {
	FetchPrices(ctx context.Context, code string, from, to time.Time) (PriceBatch, error)
}

// BenchmarkFetcher returns the daily closes of a benchmark index over [from, to]
type BenchmarkFetcher interface {
	FetchBenchmark(ctx context.Context, indexID string, from, to time.Time) ([]BenchmarkRow, error)
}

// FactorFetcher returns factor values aligned to the trading calendar
type FactorFetcher interface {
	FetchFactors(ctx context.Context, codes []string, factors []string, calendar TradingCalendar) ([]FactorValue, error)
}

// BlobStore moves local artifacts to and from object storage
type BlobStore interface {
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
}
