package panel

import (
	"math"
	"sort"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/config"
)

// Config holds the panel build parameters
type Config struct {
	// Limits: 보드별 가격제한폭 (설정값, 데이터에서 추정하지 않음)
	Limits config.LimitSettings
}

// Build reindexes raw OHLCV rows onto the trading calendar for every universe
// member and derives returns, suspension and price-limit flags.
//
// Pure function: no I/O, output independent of input row order.
// ⭐ SSOT: 패널 변환 규칙은 이 함수에서만
func Build(batch contracts.PriceBatch, universe *contracts.Universe, calendar contracts.TradingCalendar, cfg Config) (*contracts.Panel, error) {
	if universe == nil || universe.Count() == 0 {
		var ref time.Time
		if universe != nil {
			ref = universe.ReferenceDate
		}
		return nil, &contracts.EmptyUniverseError{ReferenceDate: ref}
	}

	if missing := batch.MissingColumns(contracts.RequiredPriceColumns); len(missing) > 0 {
		return nil, &contracts.SchemaError{Columns: missing, Reason: "required price columns absent"}
	}

	if calendar.Len() == 0 {
		calendar = contracts.CalendarFromBatch(batch)
	}

	byCode := groupByCode(batch.Rows)

	members := append([]contracts.UniverseMember(nil), universe.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].Code < members[j].Code })

	rows := make([]contracts.PanelRow, 0, len(members)*calendar.Len())
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if seen[m.Code] {
			continue
		}
		seen[m.Code] = true
		rows = append(rows, buildInstrument(m, byCode[m.Code], calendar, cfg.Limits.Threshold(m.Market))...)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rows[i].Code < rows[j].Code
	})

	return &contracts.Panel{Calendar: calendar, Rows: rows}, nil
}

// buildInstrument walks the calendar for one member.
// raw is keyed by date and already deduplicated.
func buildInstrument(m contracts.UniverseMember, raw map[time.Time]contracts.RawPriceRow, calendar contracts.TradingCalendar, threshold float64) []contracts.PanelRow {
	var out []contracts.PanelRow
	var prevClose *float64 // 직전 캘린더 행의 종가 (결측이면 nil → 수익률 체인 끊김)

	for _, date := range calendar.Dates {
		if !m.Listed(date) {
			continue
		}

		row := contracts.PanelRow{Date: date, Code: m.Code}
		r, ok := raw[date]
		if !ok {
			// 거래정지: 가격은 절대 forward-fill 하지 않음
			row.IsSuspended = true
			out = append(out, row)
			prevClose = nil
			continue
		}

		row.Open = clean(r.Open)
		row.High = clean(r.High)
		row.Low = clean(r.Low)
		row.Close = clean(r.Close)
		if r.Volume != nil {
			v := *r.Volume
			row.Volume = &v
		}

		if row.Close != nil && prevClose != nil && *prevClose != 0 {
			ret := *row.Close / *prevClose - 1
			row.DailyReturn = &ret
		}

		// 거래량 0 + 가격 불변 = 거래정지 (가격은 유지)
		if row.Volume != nil && *row.Volume == 0 && row.Close != nil && prevClose != nil && *row.Close == *prevClose {
			row.IsSuspended = true
		}

		if row.DailyReturn != nil && threshold > 0 {
			row.IsLimitUp = *row.DailyReturn > threshold
			row.IsLimitDown = *row.DailyReturn < -threshold
		}

		out = append(out, row)
		prevClose = row.Close
	}
	return out
}

// groupByCode groups rows per instrument and resolves duplicate (code, date)
// rows to a single row chosen by value, not by input position
func groupByCode(rows []contracts.RawPriceRow) map[string]map[time.Time]contracts.RawPriceRow {
	out := make(map[string]map[time.Time]contracts.RawPriceRow)
	for _, r := range rows {
		if r.Code == "" {
			continue
		}
		date := contracts.DateOnly(r.Date)
		r.Date = date

		byDate, ok := out[r.Code]
		if !ok {
			byDate = make(map[time.Time]contracts.RawPriceRow)
			out[r.Code] = byDate
		}

		if cur, dup := byDate[date]; !dup || preferRow(r, cur) {
			byDate[date] = r
		}
	}
	return out
}

// preferRow orders duplicates: larger volume, then close, open, high, low (null lowest)
func preferRow(a, b contracts.RawPriceRow) bool {
	if c := cmpInt(a.Volume, b.Volume); c != 0 {
		return c > 0
	}
	for _, pair := range [][2]*float64{{a.Close, b.Close}, {a.Open, b.Open}, {a.High, b.High}, {a.Low, b.Low}} {
		if c := cmpFloat(pair[0], pair[1]); c != 0 {
			return c > 0
		}
	}
	return false
}

func cmpInt(a, b *int64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func cmpFloat(a, b *float64) int {
	a, b = clean(a), clean(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

// clean maps NaN/Inf to null
func clean(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}
