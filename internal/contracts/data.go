package contracts

import (
	"sort"
	"time"
)

// Price batch column names
// ⭐ SSOT: 원천 컬럼명은 여기서만 정의
const (
	ColDate   = "date"
	ColCode   = "code"
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// RequiredPriceColumns must all be present for a panel build
var RequiredPriceColumns = []string{ColDate, ColCode, ColOpen, ColHigh, ColLow, ColClose, ColVolume}

// RawPriceRow is one upstream OHLCV observation. Any field may be missing.
type RawPriceRow struct {
	Code   string    `json:"code"`
	Date   time.Time `json:"date"`
	Open   *float64  `json:"open,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Close  *float64  `json:"close,omitempty"`
	Volume *int64    `json:"volume,omitempty"`
}

// PriceBatch is a set of raw rows together with the columns the upstream reported
type PriceBatch struct {
	Columns []string      `json:"columns"`
	Rows    []RawPriceRow `json:"rows"`
}

// MissingColumns returns the required columns absent from the batch, in required order
func (b PriceBatch) MissingColumns(required []string) []string {
	have := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		have[c] = true
	}

	var missing []string
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// MergeBatches concatenates per-instrument batches.
// The merged column set is the intersection, so one short batch surfaces as a schema problem.
func MergeBatches(batches []PriceBatch) PriceBatch {
	if len(batches) == 0 {
		return PriceBatch{}
	}

	count := make(map[string]int)
	total := 0
	for _, b := range batches {
		seen := make(map[string]bool, len(b.Columns))
		for _, c := range b.Columns {
			if !seen[c] {
				seen[c] = true
				count[c]++
			}
		}
		total += len(b.Rows)
	}

	var cols []string
	for _, c := range batches[0].Columns {
		if count[c] == len(batches) {
			cols = append(cols, c)
		}
	}

	rows := make([]RawPriceRow, 0, total)
	for _, b := range batches {
		rows = append(rows, b.Rows...)
	}
	return PriceBatch{Columns: cols, Rows: rows}
}

// DateOnly truncates t to a UTC calendar date
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TradingCalendar is the ordered set of trading dates of a run
type TradingCalendar struct {
	Dates []time.Time `json:"dates"`
}

// NewTradingCalendar dedupes and sorts dates
func NewTradingCalendar(dates []time.Time) TradingCalendar {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = DateOnly(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return TradingCalendar{Dates: out}
}

// CalendarFromBatch derives the calendar as the distinct dates across fetched rows
func CalendarFromBatch(b PriceBatch) TradingCalendar {
	dates := make([]time.Time, 0, len(b.Rows))
	for _, r := range b.Rows {
		dates = append(dates, r.Date)
	}
	return NewTradingCalendar(dates)
}

// Len returns the number of trading dates
func (c TradingCalendar) Len() int { return len(c.Dates) }

// Start returns the first trading date (zero when empty)
func (c TradingCalendar) Start() time.Time {
	if len(c.Dates) == 0 {
		return time.Time{}
	}
	return c.Dates[0]
}

// End returns the last trading date (zero when empty)
func (c TradingCalendar) End() time.Time {
	if len(c.Dates) == 0 {
		return time.Time{}
	}
	return c.Dates[len(c.Dates)-1]
}

// BenchmarkRow is one day of a benchmark index
type BenchmarkRow struct {
	Date        time.Time `json:"date"`
	IndexID     string    `json:"index_id"`
	Close       float64   `json:"close"`
	DailyReturn *float64  `json:"daily_return,omitempty"`
}

// FactorValue is one factor observation in long form (date, stock, factor, value)
type FactorValue struct {
	Date   time.Time `json:"date"`
	Code   string    `json:"code"`
	Factor string    `json:"factor"`
	Value  *float64  `json:"value,omitempty"`
}
