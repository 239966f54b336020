package pipeline

import (
	"fmt"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/dataset"
	"github.com/wonny/aegis-etl/pkg/config"
)

// Params are the resolved parameters of one run
type Params struct {
	MarketValueDate    time.Time
	Start              time.Time
	End                time.Time
	TopN               int
	Markets            []string
	ExcludedIndustries []string
	ListedBefore       *time.Time

	// Dataset is the dataset template ({top_n}, {market_value_date}, ...)
	Dataset string

	BenchmarkIndexIDs []string
	BacktestConfig    [][2]string

	Factors FactorParams
	Skip    SkipFlags
}

// FactorParams controls factor augmentation
type FactorParams struct {
	Enabled      bool
	Names        []string
	TableSuffix  string
	PositiveCorr bool
	Weights      []float64
}

// SkipFlags disable optional sub-stages
type SkipFlags struct {
	Benchmark bool
	Calendar  bool
	Upload    bool
}

// ParamsFromSettings resolves settings into run parameters and the market value dates to run.
// CLI flags are applied on top of the result by the caller.
func ParamsFromSettings(s *config.Settings) (Params, []time.Time, error) {
	p := Params{
		TopN:               s.TopStocks.TopN,
		Markets:            s.TopStocks.Markets,
		ExcludedIndustries: s.TopStocks.ExcludedIndustries,
		Dataset:            s.Warehouse.Dataset,
		BenchmarkIndexIDs:  s.Benchmark.IndexIDs,
		BacktestConfig:     s.BacktestPairs(),
		Factors: FactorParams{
			Enabled:      s.Factors.Enabled,
			Names:        s.Factors.Names,
			TableSuffix:  s.Factors.TableSuffix,
			PositiveCorr: s.Factors.PositiveCorr,
			Weights:      s.Factors.Weights,
		},
	}

	var err error
	if p.Start, err = parseDate("prices.start", s.Prices.Start); err != nil {
		return Params{}, nil, err
	}
	if p.End, err = parseDate("prices.end", s.Prices.End); err != nil {
		return Params{}, nil, err
	}
	if s.TopStocks.ListedBefore != "" {
		lb, err := parseDate("top_stocks.pre_list_date", s.TopStocks.ListedBefore)
		if err != nil {
			return Params{}, nil, err
		}
		p.ListedBefore = &lb
	}

	if hash, err := s.Hash(); err == nil {
		p.BacktestConfig = append(p.BacktestConfig, [2]string{"settings_hash", hash})
	}

	dates, err := ParseDates(s.TopStocks.MarketValueDates)
	if err != nil {
		return Params{}, nil, err
	}
	return p, dates, nil
}

// ParseDates parses YYYY-MM-DD strings
func ParseDates(values []string) ([]time.Time, error) {
	dates := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := parseDate("market_value_date", v)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(config.DateLayout, value)
	if err != nil {
		return time.Time{}, &contracts.ConfigError{Field: field, Reason: fmt.Sprintf("invalid date %q", value)}
	}
	return d, nil
}

// Target resolves the dataset destination of the run
func (p Params) Target() (dataset.Target, error) {
	return dataset.Resolve(p.Dataset, dataset.Params{
		MarketValueDate: p.MarketValueDate,
		Start:           p.Start,
		End:             p.End,
		TopN:            p.TopN,
	})
}

// UniverseQuery returns the selection query of the run
func (p Params) UniverseQuery() contracts.UniverseQuery {
	return contracts.UniverseQuery{
		ReferenceDate:      p.MarketValueDate,
		TopN:               p.TopN,
		Markets:            p.Markets,
		ExcludedIndustries: p.ExcludedIndustries,
		ListedBefore:       p.ListedBefore,
	}
}

// Validate checks everything that can be known before any side effect
func (p Params) Validate() error {
	if _, err := p.Target(); err != nil {
		return err
	}
	if p.Factors.Enabled {
		if len(p.Factors.Names) == 0 {
			return &contracts.ConfigError{Field: "factors.names", Reason: "required with factors enabled"}
		}
		if len(p.Factors.Weights) > 0 && len(p.Factors.Weights) != len(p.Factors.Names) {
			return &contracts.ConfigError{Field: "factors.weights", Reason: "must match factors.names"}
		}
	}
	return nil
}
