package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar date layout used by settings and CLI flags
const DateLayout = "2006-01-02"

// Settings is the pipeline settings file (config/settings.yaml)
// 환경변수(Config)와 분리: 무엇을 적재할지는 여기, 어디에 연결할지는 Config
type Settings struct {
	TopStocks      TopStocksSettings `yaml:"top_stocks" json:"top_stocks"`
	Prices         PriceSettings     `yaml:"prices" json:"prices"`
	Warehouse      DatasetSettings   `yaml:"warehouse" json:"warehouse"`
	Benchmark      BenchmarkSettings `yaml:"benchmark" json:"benchmark"`
	Factors        FactorSettings    `yaml:"factors" json:"factors"`
	BacktestConfig map[string]string `yaml:"backtest_config" json:"backtest_config"`
	Limits         LimitSettings     `yaml:"limits" json:"limits"`
	Retry          RetrySettings     `yaml:"retry" json:"retry"`
	Collector      CollectorSettings `yaml:"collector" json:"collector"`
}

// TopStocksSettings controls universe selection
type TopStocksSettings struct {
	MarketValueDates   []string `yaml:"market_value_dates" json:"market_value_dates"`
	TopN               int      `yaml:"top_n" json:"top_n"`
	ExcludedIndustries []string `yaml:"excluded_industry" json:"excluded_industry"`
	ListedBefore       string   `yaml:"pre_list_date" json:"pre_list_date"` // 비어있으면 필터 없음
	Markets            []string `yaml:"markets" json:"markets"`
}

// PriceSettings is the OHLCV history window
type PriceSettings struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// DatasetSettings holds the warehouse dataset template
type DatasetSettings struct {
	Dataset string `yaml:"dataset" json:"dataset"`
}

// BenchmarkSettings lists benchmark index ids (KOSPI, KOSDAQ, ...)
type BenchmarkSettings struct {
	IndexIDs []string `yaml:"index_ids" json:"index_ids"`
}

// FactorSettings controls optional factor augmentation
type FactorSettings struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Names       []string `yaml:"names" json:"names"`
	TableSuffix string   `yaml:"table_suffix" json:"table_suffix"`

	// 순위: positive_corr=true 이면 작은 값이 1위
	PositiveCorr bool      `yaml:"positive_corr" json:"positive_corr"`
	Weights      []float64 `yaml:"weights" json:"weights"` // 비어있으면 동일가중
}

// LimitSettings holds daily price-limit thresholds per board (fraction, 0.30 = 30%)
type LimitSettings struct {
	Default float64            `yaml:"default" json:"default"`
	Boards  map[string]float64 `yaml:"boards" json:"boards"`
}

// RetrySettings is the retry policy applied to every external call
type RetrySettings struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CollectorSettings controls per-instrument fetch fan-out
type CollectorSettings struct {
	Workers       int `yaml:"workers" json:"workers"`
	RatePerSecond int `yaml:"rate_per_second" json:"rate_per_second"`
}

// DefaultSettings returns settings used when a key is absent from the file
func DefaultSettings() *Settings {
	return &Settings{
		TopStocks: TopStocksSettings{
			TopN:    50,
			Markets: []string{"KOSPI", "KOSDAQ"},
		},
		Warehouse: DatasetSettings{
			Dataset: "aegis_top{top_n}",
		},
		Benchmark: BenchmarkSettings{
			IndexIDs: []string{"KOSPI"},
		},
		BacktestConfig: map[string]string{},
		Limits: LimitSettings{
			Default: 0.30, // KOSPI/KOSDAQ 가격제한폭 ±30%
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Collector: CollectorSettings{
			Workers:       5,
			RatePerSecond: 10,
		},
	}
}

// LoadSettings reads the YAML settings file on top of the defaults.
// KnownFields(true): 오타/미사용 필드는 즉시 실패
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes settings YAML
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks structural constraints.
// Dataset-level rules (top_n, template placeholders) are enforced by the dataset namer.
func (s *Settings) Validate() error {
	for _, d := range s.TopStocks.MarketValueDates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("top_stocks.market_value_dates: invalid date %q", d)
		}
	}
	if s.TopStocks.ListedBefore != "" {
		if _, err := time.Parse(DateLayout, s.TopStocks.ListedBefore); err != nil {
			return fmt.Errorf("top_stocks.pre_list_date: invalid date %q", s.TopStocks.ListedBefore)
		}
	}
	for _, d := range []string{s.Prices.Start, s.Prices.End} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("prices: invalid date %q", d)
		}
	}

	if s.Limits.Default <= 0 || s.Limits.Default >= 1 {
		return fmt.Errorf("limits.default must be in (0, 1), got %v", s.Limits.Default)
	}
	for board, th := range s.Limits.Boards {
		if th <= 0 || th >= 1 {
			return fmt.Errorf("limits.boards.%s must be in (0, 1), got %v", board, th)
		}
	}

	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if s.Retry.BaseDelay < 0 || s.Retry.MaxDelay < s.Retry.BaseDelay {
		return fmt.Errorf("retry: need 0 <= base_delay <= max_delay")
	}

	if s.Collector.Workers < 1 {
		return fmt.Errorf("collector.workers must be >= 1")
	}
	if s.Collector.RatePerSecond < 1 {
		return fmt.Errorf("collector.rate_per_second must be >= 1")
	}

	if s.Factors.Enabled && len(s.Factors.Names) == 0 {
		return fmt.Errorf("factors.names is required when factors.enabled")
	}
	if len(s.Factors.Weights) > 0 && len(s.Factors.Weights) != len(s.Factors.Names) {
		return fmt.Errorf("factors.weights must match factors.names (%d != %d)", len(s.Factors.Weights), len(s.Factors.Names))
	}
	return nil
}

// Threshold returns the price-limit threshold for a board
func (l LimitSettings) Threshold(board string) float64 {
	if th, ok := l.Boards[board]; ok {
		return th
	}
	return l.Default
}

// Hash is the sha256 of the canonical JSON form; stored alongside the backtest config
// 주의: json.Marshal은 map 키를 정렬하므로 재현 가능
func (s *Settings) Hash() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// BacktestPairs returns backtest_config as key-sorted pairs
func (s *Settings) BacktestPairs() [][2]string {
	keys := make([]string, 0, len(s.BacktestConfig))
	for k := range s.BacktestConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, s.BacktestConfig[k]})
	}
	return out
}
