package panel

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/config"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func bar(code, date string, close float64, volume int64) contracts.RawPriceRow {
	return contracts.RawPriceRow{
		Code: code, Date: day(date),
		Open: f(close), High: f(close), Low: f(close), Close: f(close),
		Volume: i(volume),
	}
}

func universeOf(codes ...string) *contracts.Universe {
	u := &contracts.Universe{ReferenceDate: day("2024-01-01"), TopN: len(codes)}
	for n, c := range codes {
		u.Members = append(u.Members, contracts.UniverseMember{Code: c, Market: "KOSPI", Rank: n + 1})
	}
	return u
}

func tenPercent() Config {
	return Config{Limits: config.LimitSettings{Default: 0.10}}
}

func calendarOf(dates ...string) contracts.TradingCalendar {
	ts := make([]time.Time, len(dates))
	for n, d := range dates {
		ts[n] = day(d)
	}
	return contracts.NewTradingCalendar(ts)
}

func find(t *testing.T, p *contracts.Panel, code, date string) contracts.PanelRow {
	t.Helper()
	for _, r := range p.Rows {
		if r.Code == code && r.Date.Equal(day(date)) {
			return r
		}
	}
	t.Fatalf("row %s/%s not found", code, date)
	return contracts.PanelRow{}
}

func TestBuild_GapScenario(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("A", "2024-01-02", 10, 100),
			bar("A", "2024-01-04", 11, 100),
			bar("B", "2024-01-02", 20, 100),
			bar("B", "2024-01-03", 21, 100),
			bar("B", "2024-01-04", 19.95, 100),
		},
	}
	cal := calendarOf("2024-01-02", "2024-01-03", "2024-01-04")

	p, err := Build(batch, universeOf("A", "B"), cal, tenPercent())
	require.NoError(t, err)
	require.Len(t, p.Rows, 6)

	a1 := find(t, p, "A", "2024-01-02")
	assert.Nil(t, a1.DailyReturn, "first observed date")
	assert.False(t, a1.IsSuspended)

	a2 := find(t, p, "A", "2024-01-03")
	assert.True(t, a2.IsSuspended)
	assert.Nil(t, a2.DailyReturn)
	assert.Nil(t, a2.Open)
	assert.Nil(t, a2.High)
	assert.Nil(t, a2.Low)
	assert.Nil(t, a2.Close)
	assert.Nil(t, a2.Volume)

	a3 := find(t, p, "A", "2024-01-04")
	assert.False(t, a3.IsSuspended)
	assert.Nil(t, a3.DailyReturn, "chain broken by the gap")
	require.NotNil(t, a3.Close)
	assert.Equal(t, 11.0, *a3.Close)

	b2 := find(t, p, "B", "2024-01-03")
	require.NotNil(t, b2.DailyReturn)
	assert.InDelta(t, 0.05, *b2.DailyReturn, 1e-12)
	assert.False(t, b2.IsLimitUp)

	b3 := find(t, p, "B", "2024-01-04")
	require.NotNil(t, b3.DailyReturn)
	assert.InDelta(t, -0.05, *b3.DailyReturn, 1e-12)
	assert.False(t, b3.IsLimitDown)
	assert.False(t, b3.IsLimitUp)

	// (date, code) order
	assert.Equal(t, "A", p.Rows[0].Code)
	assert.Equal(t, "B", p.Rows[1].Code)
	assert.True(t, p.Rows[0].Date.Equal(day("2024-01-02")))
	assert.True(t, p.Rows[5].Date.Equal(day("2024-01-04")))
}

func TestBuild_LimitFlags(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("A", "2024-01-02", 100, 10),
			bar("A", "2024-01-03", 130, 10),    // +30%
			bar("A", "2024-01-04", 91, 10),     // -30%
			bar("A", "2024-01-05", 113.75, 10), // +25% exactly at the boundary
		},
	}
	cal := calendarOf("2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05")

	p, err := Build(batch, universeOf("A"), cal, Config{Limits: config.LimitSettings{Default: 0.25}})
	require.NoError(t, err)

	assert.True(t, find(t, p, "A", "2024-01-03").IsLimitUp)
	assert.True(t, find(t, p, "A", "2024-01-04").IsLimitDown)

	boundary := find(t, p, "A", "2024-01-05")
	assert.False(t, boundary.IsLimitUp)
	assert.False(t, boundary.IsLimitDown)

	for _, r := range p.Rows {
		assert.False(t, r.IsLimitUp && r.IsLimitDown, "flags are exclusive")
		if r.DailyReturn == nil {
			assert.False(t, r.IsLimitUp || r.IsLimitDown)
		}
	}
}

func TestBuild_PerBoardThreshold(t *testing.T) {
	u := &contracts.Universe{Members: []contracts.UniverseMember{
		{Code: "K", Market: "KONEX"},
		{Code: "P", Market: "KOSPI"},
	}}
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("K", "2024-01-02", 100, 1), bar("K", "2024-01-03", 120, 1),
			bar("P", "2024-01-02", 100, 1), bar("P", "2024-01-03", 120, 1),
		},
	}
	cfg := Config{Limits: config.LimitSettings{Default: 0.30, Boards: map[string]float64{"KONEX": 0.15}}}

	p, err := Build(batch, u, calendarOf("2024-01-02", "2024-01-03"), cfg)
	require.NoError(t, err)

	assert.True(t, find(t, p, "K", "2024-01-03").IsLimitUp)
	assert.False(t, find(t, p, "P", "2024-01-03").IsLimitUp)
}

func TestBuild_ListedWindow(t *testing.T) {
	delist := day("2024-01-05")
	u := &contracts.Universe{Members: []contracts.UniverseMember{
		{Code: "NEW", ListDate: day("2024-01-03")},
		{Code: "OLD", DelistDate: &delist},
	}}
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("NEW", "2024-01-04", 5, 1),
			bar("OLD", "2024-01-02", 7, 1),
			bar("OLD", "2024-01-03", 7, 1),
			bar("OLD", "2024-01-04", 7, 1),
		},
	}
	cal := calendarOf("2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05")

	p, err := Build(batch, u, cal, tenPercent())
	require.NoError(t, err)

	var newRows, oldRows []contracts.PanelRow
	for _, r := range p.Rows {
		if r.Code == "NEW" {
			newRows = append(newRows, r)
		} else {
			oldRows = append(oldRows, r)
		}
	}

	// NEW: 2024-01-03 .. 2024-01-05 (listed on 01-03, no row that day)
	require.Len(t, newRows, 3)
	assert.True(t, newRows[0].Date.Equal(day("2024-01-03")))
	assert.True(t, newRows[0].IsSuspended)
	assert.False(t, newRows[1].IsSuspended)
	assert.Nil(t, newRows[1].DailyReturn)
	assert.True(t, newRows[2].IsSuspended)

	// OLD: delisted on 01-05 → no row that day, never suspended outside the window
	require.Len(t, oldRows, 3)
	for _, r := range oldRows {
		assert.True(t, r.Date.Before(delist))
		assert.False(t, r.IsSuspended)
	}
}

func TestBuild_ZeroVolumeUnchangedPrice(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("A", "2024-01-02", 50, 100),
			bar("A", "2024-01-03", 50, 0),
			bar("A", "2024-01-04", 51, 0),
		},
	}

	p, err := Build(batch, universeOf("A"), calendarOf("2024-01-02", "2024-01-03", "2024-01-04"), tenPercent())
	require.NoError(t, err)

	halted := find(t, p, "A", "2024-01-03")
	assert.True(t, halted.IsSuspended)
	require.NotNil(t, halted.Close, "prices of a reported row are kept")
	require.NotNil(t, halted.DailyReturn)
	assert.Equal(t, 0.0, *halted.DailyReturn)

	moved := find(t, p, "A", "2024-01-04")
	assert.False(t, moved.IsSuspended, "zero volume but price changed")
}

func TestBuild_ZeroPriorClose(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("A", "2024-01-02", 0, 10),
			bar("A", "2024-01-03", 5, 10),
			{Code: "A", Date: day("2024-01-04"), Close: f(math.NaN()), Volume: i(10)},
			bar("A", "2024-01-05", 6, 10),
		},
	}

	p, err := Build(batch, universeOf("A"), calendarOf("2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"), tenPercent())
	require.NoError(t, err)

	assert.Nil(t, find(t, p, "A", "2024-01-03").DailyReturn, "prior close zero")
	assert.Nil(t, find(t, p, "A", "2024-01-04").Close, "NaN treated as null")
	assert.Nil(t, find(t, p, "A", "2024-01-05").DailyReturn, "prior close null")
}

func randomBatch(r *rand.Rand) (contracts.PriceBatch, contracts.TradingCalendar) {
	codes := []string{"005930", "000660", "035420", "051910"}
	var dates []string
	start := day("2024-01-01")
	for n := 0; n < 30; n++ {
		dates = append(dates, start.AddDate(0, 0, n).Format("2006-01-02"))
	}

	batch := contracts.PriceBatch{Columns: contracts.RequiredPriceColumns}
	for _, c := range codes {
		px := 100.0
		for _, d := range dates {
			if r.Float64() < 0.2 {
				continue
			}
			px *= 1 + (r.Float64()-0.5)*0.4
			batch.Rows = append(batch.Rows, bar(c, d, math.Round(px*100)/100, int64(r.Intn(3))*10))
			if r.Float64() < 0.05 {
				batch.Rows = append(batch.Rows, bar(c, d, px+1, int64(r.Intn(50))))
			}
		}
	}
	return batch, contracts.CalendarFromBatch(batch)
}

func TestBuild_DeterministicAndOrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	u := universeOf("005930", "000660", "035420", "051910")

	for round := 0; round < 20; round++ {
		batch, cal := randomBatch(r)

		p1, err := Build(batch, u, cal, tenPercent())
		require.NoError(t, err)
		p2, err := Build(batch, u, cal, tenPercent())
		require.NoError(t, err)

		shuffled := contracts.PriceBatch{Columns: batch.Columns, Rows: append([]contracts.RawPriceRow(nil), batch.Rows...)}
		r.Shuffle(len(shuffled.Rows), func(a, b int) { shuffled.Rows[a], shuffled.Rows[b] = shuffled.Rows[b], shuffled.Rows[a] })
		p3, err := Build(shuffled, u, cal, tenPercent())
		require.NoError(t, err)

		b1, _ := json.Marshal(p1)
		b2, _ := json.Marshal(p2)
		b3, _ := json.Marshal(p3)
		assert.Equal(t, string(b1), string(b2), "same input, same bytes")
		assert.Equal(t, string(b1), string(b3), "input order does not matter")

		for _, row := range p1.Rows {
			assert.False(t, row.IsLimitUp && row.IsLimitDown)
			if row.IsSuspended && row.Close == nil {
				assert.Nil(t, row.Open)
				assert.Nil(t, row.Volume)
				assert.Nil(t, row.DailyReturn)
			}
		}

		// one row per (date, code) in calendar × members
		assert.Equal(t, cal.Len()*u.Count(), p1.Len())
	}
}

func TestBuild_IgnoresNonMembers(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows:    []contracts.RawPriceRow{bar("A", "2024-01-02", 1, 1), bar("Z", "2024-01-02", 1, 1)},
	}

	p, err := Build(batch, universeOf("A"), contracts.TradingCalendar{}, tenPercent())
	require.NoError(t, err)
	require.Len(t, p.Rows, 1)
	assert.Equal(t, "A", p.Rows[0].Code)
	assert.Equal(t, 1, p.Calendar.Len(), "calendar derived from the batch when not given")
}

func TestBuild_SchemaError(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: []string{contracts.ColDate, contracts.ColCode, contracts.ColClose},
		Rows:    []contracts.RawPriceRow{bar("A", "2024-01-02", 1, 1)},
	}

	_, err := Build(batch, universeOf("A"), calendarOf("2024-01-02"), tenPercent())
	var se *contracts.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{contracts.ColOpen, contracts.ColHigh, contracts.ColLow, contracts.ColVolume}, se.Columns)
}

func TestBuild_EmptyUniverse(t *testing.T) {
	batch := contracts.PriceBatch{Columns: contracts.RequiredPriceColumns}

	_, err := Build(batch, &contracts.Universe{ReferenceDate: day("2024-01-31")}, calendarOf("2024-01-02"), tenPercent())
	var eu *contracts.EmptyUniverseError
	require.ErrorAs(t, err, &eu)
	assert.True(t, eu.ReferenceDate.Equal(day("2024-01-31")))

	_, err = Build(batch, nil, calendarOf("2024-01-02"), tenPercent())
	assert.ErrorAs(t, err, &eu)
}

func TestSummarizeAndDuplicates(t *testing.T) {
	batch := contracts.PriceBatch{
		Columns: contracts.RequiredPriceColumns,
		Rows: []contracts.RawPriceRow{
			bar("A", "2024-01-02", 10, 1),
			bar("A", "2024-01-02", 10.5, 2),
			bar("A", "2024-01-04", 12, 1),
			bar("B", "2024-01-02", 10, 1),
			bar("B", "2024-01-03", 10, 1),
			bar("B", "2024-01-04", 10, 1),
		},
	}

	dups := Duplicates(batch)
	require.Len(t, dups, 1)
	assert.Equal(t, Key{Code: "A", Date: day("2024-01-02")}, dups[0])

	p, err := Build(batch, universeOf("A", "B"), contracts.CalendarFromBatch(batch), tenPercent())
	require.NoError(t, err)

	a1 := find(t, p, "A", "2024-01-02")
	assert.Equal(t, 10.5, *a1.Close, "duplicate resolved to the larger volume")

	s := Summarize(p)
	assert.Equal(t, 6, s.Rows)
	assert.Equal(t, 2, s.Instruments)
	assert.Equal(t, 3, s.Dates)
	assert.Equal(t, 1, s.Suspended)
	assert.Equal(t, 4, s.NullReturns) // A: d1,d2,d3 / B: d1
}
