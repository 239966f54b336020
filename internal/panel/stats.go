package panel

import (
	"sort"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// Stats summarises a built panel for logs and the run summary
type Stats struct {
	Rows        int `json:"rows"`
	Instruments int `json:"instruments"`
	Dates       int `json:"dates"`
	Suspended   int `json:"suspended"`
	LimitUp     int `json:"limit_up"`
	LimitDown   int `json:"limit_down"`
	NullReturns int `json:"null_returns"`
}

// Summarize counts flags over the panel
func Summarize(p *contracts.Panel) Stats {
	s := Stats{
		Rows:        p.Len(),
		Instruments: len(p.Codes()),
		Dates:       p.Calendar.Len(),
	}
	for _, r := range p.Rows {
		if r.IsSuspended {
			s.Suspended++
		}
		if r.IsLimitUp {
			s.LimitUp++
		}
		if r.IsLimitDown {
			s.LimitDown++
		}
		if r.DailyReturn == nil {
			s.NullReturns++
		}
	}
	return s
}

// Key identifies a raw row
type Key struct {
	Code string
	Date time.Time
}

// Duplicates returns the (code, date) keys that occur more than once, sorted
func Duplicates(batch contracts.PriceBatch) []Key {
	count := make(map[Key]int, len(batch.Rows))
	for _, r := range batch.Rows {
		count[Key{Code: r.Code, Date: contracts.DateOnly(r.Date)}]++
	}

	var dups []Key
	for k, n := range count {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	sort.Slice(dups, func(i, j int) bool {
		if dups[i].Code != dups[j].Code {
			return dups[i].Code < dups[j].Code
		}
		return dups[i].Date.Before(dups[j].Date)
	})
	return dups
}
