package factor

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
)

func d(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func f(v float64) *float64 { return &v }

func calendar(dates ...string) contracts.TradingCalendar {
	ts := make([]time.Time, len(dates))
	for i, s := range dates {
		ts[i] = d(s)
	}
	return contracts.NewTradingCalendar(ts)
}

func TestExpand_ForwardFill(t *testing.T) {
	obs := []Observation{
		{Code: "005930", ReportDate: d("2024-03-31"), Value: f(10)},
		{Code: "005930", ReportDate: d("2023-12-31"), Value: f(8)},
		{Code: "005930", ReportDate: d("2024-01-04"), Value: nil}, // null report keeps previous value
		{Code: "000660", ReportDate: d("2024-01-03"), Value: f(2)},
	}
	cal := calendar("2024-01-02", "2024-01-03", "2024-01-04", "2024-04-01")

	got := Expand("roe", obs, cal)
	require.Len(t, got, 8)

	type cell struct {
		date, code string
		value      *float64
	}
	want := []cell{
		{"2024-01-02", "000660", nil},
		{"2024-01-02", "005930", f(8)},
		{"2024-01-03", "000660", f(2)},
		{"2024-01-03", "005930", f(8)},
		{"2024-01-04", "000660", f(2)},
		{"2024-01-04", "005930", f(8)},
		{"2024-04-01", "000660", f(2)},
		{"2024-04-01", "005930", f(10)},
	}
	for i, w := range want {
		assert.Equal(t, d(w.date), got[i].Date, "row %d", i)
		assert.Equal(t, w.code, got[i].Code, "row %d", i)
		assert.Equal(t, "roe", got[i].Factor)
		assert.Equal(t, w.value, got[i].Value, "row %d", i)
	}
}

func TestExpand_Empty(t *testing.T) {
	assert.Empty(t, Expand("per", nil, calendar("2024-01-02")))
	assert.Empty(t, Expand("per", []Observation{{Code: "A", ReportDate: d("2024-01-01"), Value: f(1)}}, contracts.TradingCalendar{}))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]string{"roe", "per"}))

	err := Validate([]string{"roe", "momentum"})
	var ce *contracts.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Reason, "momentum")
}

func fv(date, code string, v *float64) contracts.FactorValue {
	return contracts.FactorValue{Date: d(date), Code: code, Factor: "x", Value: v}
}

func TestRankByFactor(t *testing.T) {
	values := []contracts.FactorValue{
		fv("2024-01-02", "A", f(3)),
		fv("2024-01-02", "B", f(1)),
		fv("2024-01-02", "C", f(3)),
		fv("2024-01-02", "D", nil),
		fv("2024-01-02", "E", f(math.NaN())),
		fv("2024-01-03", "A", f(5)),
		fv("2024-01-03", "B", f(7)),
	}

	tests := []struct {
		name         string
		positiveCorr bool
		want         []float64
	}{
		{"ascending", true, []float64{2.5, 1, 2.5, 0, 0, 1, 2}},
		{"descending", false, []float64{1.5, 3, 1.5, 0, 0, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RankByFactor(values, tt.positiveCorr)
			require.Len(t, got, len(values))
			for i, r := range got {
				assert.Equal(t, values[i].Code, r.Code, "input order kept")
				assert.Equal(t, tt.want[i], r.Rank, "%s %s", r.Date.Format("0102"), r.Code)
			}
		})
	}
}

func TestWeightedRank(t *testing.T) {
	day := d("2024-01-01")
	r1 := []Ranked{{day, "A", 1}, {day, "B", 2}, {day, "C", 3}}
	r2 := []Ranked{{day, "A", 3}, {day, "B", 1}, {day, "C", 2}, {day, "D", 1}}

	t.Run("single factor equals its rank", func(t *testing.T) {
		got, err := WeightedRank([][]Ranked{r1}, []float64{1}, true)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].Rank, got[1].Rank, got[2].Rank})
	})

	t.Run("two factors inner join", func(t *testing.T) {
		got, err := WeightedRank([][]Ranked{r1, r2}, EqualWeights(2), true)
		require.NoError(t, err)
		require.Len(t, got, 3, "D is missing from the first ranking")

		// sums: A=2, B=1.5, C=2.5
		ranks := map[string]float64{}
		for _, r := range got {
			ranks[r.Code] = r.Rank
		}
		assert.Equal(t, map[string]float64{"A": 2, "B": 1, "C": 3}, ranks)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := WeightedRank([][]Ranked{r1}, []float64{0.5, 0.5}, true)
		assert.Error(t, err)
	})
}

func TestFundamentalsRepository_FetchFactors(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS data;
		CREATE TABLE IF NOT EXISTS data.fundamentals (
			stock_code TEXT NOT NULL, report_date DATE NOT NULL,
			revenue DOUBLE PRECISION, operating_profit DOUBLE PRECISION, net_profit DOUBLE PRECISION,
			roe DOUBLE PRECISION, debt_ratio DOUBLE PRECISION, per DOUBLE PRECISION, pbr DOUBLE PRECISION,
			PRIMARY KEY (stock_code, report_date))`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `INSERT INTO data.fundamentals (stock_code, report_date, roe, per) VALUES
		('ZZ0001', '2023-12-31', 11.5, 9.0), ('ZZ0001', '2024-03-31', 12.5, NULL)
		ON CONFLICT DO NOTHING`)
	require.NoError(t, err)
	defer pool.Exec(ctx, `DELETE FROM data.fundamentals WHERE stock_code = 'ZZ0001'`)

	repo := NewFundamentalsRepository(pool, logger.Nop())
	got, err := repo.FetchFactors(ctx, []string{"ZZ0001"}, []string{"roe", "per"}, calendar("2024-01-02", "2024-04-01"))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, 11.5, *got[0].Value)
	assert.Equal(t, 12.5, *got[1].Value)
	assert.Equal(t, "per", got[3].Factor)
	assert.Equal(t, 9.0, *got[3].Value, "null report keeps previous per")

	_, err = repo.FetchFactors(ctx, []string{"ZZ0001"}, []string{"bogus"}, calendar("2024-01-02"))
	var ce *contracts.ConfigError
	assert.ErrorAs(t, err, &ce)
}
