package dataset

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/internal/contracts"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func baseParams() Params {
	return Params{
		MarketValueDate: day("2024-01-31"),
		Start:           day("2023-01-02"),
		End:             day("2024-12-30"),
		TopN:            20,
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		wantDataset string
	}{
		{"top_n", "aegis_top{top_n}", "aegis_top20"},
		{"underscore top_n", "tw_top_{_top_n}_stock_data", "tw_top_20_stock_data"},
		{"dates", "px_{market_value_date}_{start}_{end}", "px_20240131_20230102_20241230"},
		{"no placeholder", "Aegis-ETL", "aegis_etl"},
		{"leading digit", "{top_n}_stocks", "t_20_stocks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Resolve(tt.template, baseParams())
			require.NoError(t, err)
			assert.Equal(t, tt.wantDataset, target.Dataset)
			assert.Equal(t, "mv20240131_s20230102_e20241230_top20", target.Tag)
		})
	}
}

func TestResolve_ConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		template string
		mutate   func(p *Params)
	}{
		{"unknown placeholder", "aegis_{universe}", nil},
		{"empty placeholder", "aegis_{}", nil},
		{"unbalanced", "aegis_{top_n", nil},
		{"empty template", "  ", nil},
		{"zero top_n", "aegis", func(p *Params) { p.TopN = 0 }},
		{"negative top_n", "aegis", func(p *Params) { p.TopN = -5 }},
		{"missing mv date", "aegis", func(p *Params) { p.MarketValueDate = time.Time{} }},
		{"missing start", "aegis", func(p *Params) { p.Start = time.Time{} }},
		{"end before start", "aegis", func(p *Params) { p.End = day("2022-01-01") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			_, err := Resolve(tt.template, p)
			var ce *contracts.ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestResolve_Namespacing(t *testing.T) {
	base, err := Resolve("aegis_top{top_n}", baseParams())
	require.NoError(t, err)

	same, err := Resolve("aegis_top{top_n}", baseParams())
	require.NoError(t, err)
	assert.Equal(t, base, same)
	assert.Equal(t, base.Table("fact_price"), same.Table("fact_price"))

	variants := map[string]func(p *Params){
		"mv date": func(p *Params) { p.MarketValueDate = day("2024-02-29") },
		"start":   func(p *Params) { p.Start = day("2023-01-03") },
		"end":     func(p *Params) { p.End = day("2024-12-27") },
		"top_n":   func(p *Params) { p.TopN = 21 },
		"suffix":  func(p *Params) { p.Suffix = "roe" },
	}

	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			p := baseParams()
			mutate(&p)
			other, err := Resolve("aegis_top{top_n}", p)
			require.NoError(t, err)
			assert.NotEqual(t, base.ID(), other.ID())
			assert.NotEqual(t, base.Table("fact_price"), other.Table("fact_price"))
			assert.NotEqual(t, base.FileTag(), other.FileTag())
		})
	}
}

func TestTarget_Names(t *testing.T) {
	target, err := Resolve("aegis_top{top_n}", baseParams())
	require.NoError(t, err)

	assert.Equal(t, "fact_price_mv20240131_s20230102_e20241230_top20", target.Table("fact_price"))
	assert.Equal(t, "aegis_top20.mv20240131_s20230102_e20241230_top20", target.ID())
	assert.Equal(t, "ohlcv_raw_mv20240131_s20230102_e20241230_top20.parquet", target.FileName("ohlcv_raw", ".parquet"))

	factor := target.WithSuffix("value_factors")
	assert.Equal(t, "mv20240131_s20230102_e20241230_top20_value_factors", factor.Tag)
	assert.Equal(t, target.Tag, factor.WithSuffix("").Tag)

	spaced := target.WithSuffix("Value Factors")
	assert.True(t, strings.HasPrefix(spaced.Tag, factor.Tag+"_"))
	assert.NotEqual(t, factor.Tag, spaced.Tag)
	assert.Equal(t, target.Tag, spaced.WithSuffix("").Tag)
	assert.Equal(t, factor.Tag, spaced.WithSuffix("value_factors").Tag)
}

func TestResolve_SuffixNamespacing(t *testing.T) {
	suffixes := []string{"value_q1", "Value-Q1", "VALUE_Q1", "value q1", "value-q1"}

	seen := make(map[string]string)
	for _, suffix := range suffixes {
		p := baseParams()
		p.Suffix = suffix
		target, err := Resolve("aegis_top{top_n}", p)
		require.NoError(t, err)

		table := target.Table("fact_factor")
		assert.LessOrEqual(t, len(table), MaxIdentLen)
		if prev, ok := seen[table]; ok {
			t.Errorf("suffix %q and %q share table %s", prev, suffix, table)
		}
		seen[table] = suffix

		again, err := Resolve("aegis_top{top_n}", p)
		require.NoError(t, err)
		assert.Equal(t, table, again.Table("fact_factor"), "deterministic")
	}

	plain := baseParams()
	plain.Suffix = "value_q1"
	target, err := Resolve("aegis_top{top_n}", plain)
	require.NoError(t, err)
	assert.Equal(t, "mv20240131_s20230102_e20241230_top20_value_q1", target.Tag)
}

func TestIdent(t *testing.T) {
	assert.Equal(t, "dim_universe", Ident("Dim-Universe"))
	assert.Equal(t, "t_2024", Ident("2024"))
	assert.Equal(t, "_", Ident(""))

	long := "fact_factor_" + strings.Repeat("x", 80)
	a := Ident(long)
	b := Ident(long + "y")
	assert.LessOrEqual(t, len(a), MaxIdentLen)
	assert.LessOrEqual(t, len(b), MaxIdentLen)
	assert.NotEqual(t, a, b, "hash tail keeps distinct names distinct")
	assert.Equal(t, a, Ident(long), "deterministic")
	assert.True(t, strings.HasPrefix(a, "fact_factor_"))
}
