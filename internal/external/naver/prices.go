package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

const chartDateLayout = "20060102"

// siseJson 헤더 → 배치 컬럼
var headerColumns = map[string]string{
	"날짜":  contracts.ColDate,
	"시가":  contracts.ColOpen,
	"고가":  contracts.ColHigh,
	"저가":  contracts.ColLow,
	"종가":  contracts.ColClose,
	"거래량": contracts.ColVolume,
}

// regex fallback assumes the standard 6 leading columns
var (
	chartRowRe      = regexp.MustCompile(`\["(\d{8})",\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*([\d.]+),\s*(\d+)`)
	standardColumns = []string{contracts.ColDate, contracts.ColOpen, contracts.ColHigh, contracts.ColLow, contracts.ColClose, contracts.ColVolume}
)

// chart is a parsed siseJson response: the reported columns and one cell map per row
type chart struct {
	columns []string
	rows    []map[string]interface{}
}

// FetchPrices fetches daily OHLCV for a stock over [from, to] from the Naver chart API.
// The batch columns are the ones the chart header reported (plus code).
// ⭐ SSOT: Naver Finance 가격 API 호출은 이 함수에서만
func (c *Client) FetchPrices(ctx context.Context, stockCode string, from, to time.Time) (contracts.PriceBatch, error) {
	ch, err := c.fetchChart(ctx, stockCode, from, to)
	if err != nil {
		return contracts.PriceBatch{}, err
	}

	batch := contracts.PriceBatch{
		Columns: append([]string{contracts.ColCode}, ch.columns...),
		Rows:    make([]contracts.RawPriceRow, 0, len(ch.rows)),
	}
	for _, cells := range ch.rows {
		date, ok := parseDate(cells[contracts.ColDate])
		if !ok || date.Before(contracts.DateOnly(from)) || date.After(contracts.DateOnly(to)) {
			continue
		}
		batch.Rows = append(batch.Rows, contracts.RawPriceRow{
			Code:   stockCode,
			Date:   date,
			Open:   toFloat(cells[contracts.ColOpen]),
			High:   toFloat(cells[contracts.ColHigh]),
			Low:    toFloat(cells[contracts.ColLow]),
			Close:  toFloat(cells[contracts.ColClose]),
			Volume: toInt(cells[contracts.ColVolume]),
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"stock_code": stockCode,
		"count":      len(batch.Rows),
	}).Debug("Fetched prices")
	return batch, nil
}

// FetchBenchmark fetches an index (KOSPI, KOSDAQ, ...) and computes daily returns
func (c *Client) FetchBenchmark(ctx context.Context, indexID string, from, to time.Time) ([]contracts.BenchmarkRow, error) {
	batch, err := c.FetchPrices(ctx, indexID, from, to)
	if err != nil {
		return nil, err
	}
	if missing := batch.MissingColumns([]string{contracts.ColDate, contracts.ColClose}); len(missing) > 0 {
		return nil, &contracts.SchemaError{Table: "benchmark " + indexID, Columns: missing, Reason: "chart header lacks columns"}
	}

	sort.Slice(batch.Rows, func(i, j int) bool { return batch.Rows[i].Date.Before(batch.Rows[j].Date) })

	rows := make([]contracts.BenchmarkRow, 0, len(batch.Rows))
	var prev *float64
	for _, r := range batch.Rows {
		if r.Close == nil {
			prev = nil
			continue
		}
		row := contracts.BenchmarkRow{Date: r.Date, IndexID: indexID, Close: *r.Close}
		if prev != nil && *prev != 0 {
			ret := *r.Close / *prev - 1
			row.DailyReturn = &ret
		}
		rows = append(rows, row)
		prev = r.Close
	}
	return rows, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol string, from, to time.Time) (*chart, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("requestType", "1")
	params.Set("startTime", from.Format(chartDateLayout))
	params.Set("endTime", to.Format(chartDateLayout))
	params.Set("timeframe", "day")

	body, err := c.get(ctx, c.chartURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	ch, err := parseChart(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s chart: %w", symbol, err)
	}
	return ch, nil
}

// parseChart parses the siseJson body: a JSON-ish array whose first row is the header
func parseChart(body string) (*chart, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return &chart{columns: standardColumns}, nil
	}
	body = strings.ReplaceAll(body, "'", "\"")

	var raw [][]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return parseChartRegex(body)
	}
	if len(raw) == 0 {
		return &chart{columns: standardColumns}, nil
	}

	// header: 알려진 컬럼만 매핑 (외국인소진율 등은 무시)
	index := make(map[int]string)
	var columns []string
	for i, h := range raw[0] {
		name, _ := h.(string)
		if col, ok := headerColumns[strings.TrimSpace(name)]; ok {
			index[i] = col
			columns = append(columns, col)
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("unrecognised chart header %v", raw[0])
	}

	ch := &chart{columns: columns, rows: make([]map[string]interface{}, 0, len(raw)-1)}
	for _, row := range raw[1:] {
		cells := make(map[string]interface{}, len(index))
		for i, col := range index {
			if i < len(row) {
				cells[col] = row[i]
			}
		}
		ch.rows = append(ch.rows, cells)
	}
	return ch, nil
}

// parseChartRegex is the fallback when the body is not valid JSON
func parseChartRegex(body string) (*chart, error) {
	matches := chartRowRe.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no chart rows in response")
	}

	ch := &chart{columns: standardColumns}
	for _, m := range matches {
		cells := make(map[string]interface{}, len(standardColumns))
		for i, col := range standardColumns {
			cells[col] = m[i+1]
		}
		ch.rows = append(ch.rows, cells)
	}
	return ch, nil
}

func parseDate(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(chartDateLayout, strings.Trim(strings.TrimSpace(s), "\""))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// toFloat converts a chart cell; missing/blank/non-finite cells are nil
func toFloat(v interface{}) *float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toInt(v interface{}) *int64 {
	f := toFloat(v)
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}
