package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/dataset"
)

// Snapshot kinds, used as file name prefixes
const (
	KindRaw       = "ohlcv_raw"
	KindPanel     = "ohlcv_panel"
	KindBenchmark = "benchmark_daily"
)

const ext = ".parquet"

// RawRecord is the Parquet schema of a raw price row
type RawRecord struct {
	Code   string   `parquet:"code"`
	Date   int64    `parquet:"date,timestamp(millisecond)"` // Unix ms
	Open   *float64 `parquet:"open,optional"`
	High   *float64 `parquet:"high,optional"`
	Low    *float64 `parquet:"low,optional"`
	Close  *float64 `parquet:"close,optional"`
	Volume *int64   `parquet:"volume,optional"`
}

// BenchmarkRecord is the Parquet schema of a benchmark row
type BenchmarkRecord struct {
	Date        int64    `parquet:"date,timestamp(millisecond)"`
	IndexID     string   `parquet:"index_id"`
	Close       float64  `parquet:"close"`
	DailyReturn *float64 `parquet:"daily_return,optional"`
}

// Files are the local artifacts written for one run
type Files struct {
	Raw       string `json:"raw"`
	Panel     string `json:"panel"`
	Benchmark string `json:"benchmark,omitempty"`
}

// All returns the non-empty paths
func (f Files) All() []string {
	var out []string
	for _, p := range []string{f.Raw, f.Panel, f.Benchmark} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Path returns <dir>/<dataset>/<kind>_<tag>.parquet
func Path(dir string, target dataset.Target, kind string) string {
	return filepath.Join(dir, target.Dataset, target.FileName(kind, ext))
}

// SaveLocal writes the raw batch and the panel as Parquet files named after target.
// Existing files for the same target are overwritten.
func SaveLocal(dir string, target dataset.Target, batch contracts.PriceBatch, panel *contracts.Panel) (Files, error) {
	files := Files{
		Raw:   Path(dir, target, KindRaw),
		Panel: Path(dir, target, KindPanel),
	}

	raw := make([]RawRecord, len(batch.Rows))
	for i, r := range batch.Rows {
		raw[i] = RawRecord{
			Code:   r.Code,
			Date:   r.Date.UnixMilli(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	if err := writeFile(files.Raw, raw); err != nil {
		return Files{}, fmt.Errorf("write raw snapshot: %w", err)
	}

	var rows []contracts.PanelRow
	if panel != nil {
		rows = panel.Rows
	}
	if err := writeFile(files.Panel, rows); err != nil {
		return Files{}, fmt.Errorf("write panel snapshot: %w", err)
	}
	return files, nil
}

// SaveBenchmark writes benchmark rows next to the run's other snapshots
func SaveBenchmark(dir string, target dataset.Target, rows []contracts.BenchmarkRow) (string, error) {
	path := Path(dir, target, KindBenchmark)
	records := make([]BenchmarkRecord, len(rows))
	for i, r := range rows {
		records[i] = BenchmarkRecord{
			Date:        r.Date.UnixMilli(),
			IndexID:     r.IndexID,
			Close:       r.Close,
			DailyReturn: r.DailyReturn,
		}
	}
	if err := writeFile(path, records); err != nil {
		return "", fmt.Errorf("write benchmark snapshot: %w", err)
	}
	return path, nil
}

// ReadRaw reads a raw snapshot back into a batch (all columns present)
func ReadRaw(path string) (contracts.PriceBatch, error) {
	records, err := parquet.ReadFile[RawRecord](path)
	if err != nil {
		return contracts.PriceBatch{}, fmt.Errorf("read raw snapshot %s: %w", path, err)
	}

	batch := contracts.PriceBatch{
		Columns: append([]string(nil), contracts.RequiredPriceColumns...),
		Rows:    make([]contracts.RawPriceRow, len(records)),
	}
	for i, r := range records {
		batch.Rows[i] = contracts.RawPriceRow{
			Code:   r.Code,
			Date:   time.UnixMilli(r.Date).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return batch, nil
}

// ReadPanel reads a panel snapshot
func ReadPanel(path string) ([]contracts.PanelRow, error) {
	rows, err := parquet.ReadFile[contracts.PanelRow](path)
	if err != nil {
		return nil, fmt.Errorf("read panel snapshot %s: %w", path, err)
	}
	for i := range rows {
		rows[i].Date = rows[i].Date.UTC()
	}
	return rows, nil
}

func writeFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}
