package contracts

import "time"

// PanelRow is one (date, code) cell of the analysis panel
type PanelRow struct {
	Date        time.Time `json:"date" parquet:"date,timestamp(millisecond)"`
	Code        string    `json:"code" parquet:"code"`
	Open        *float64  `json:"open" parquet:"open,optional"`
	High        *float64  `json:"high" parquet:"high,optional"`
	Low         *float64  `json:"low" parquet:"low,optional"`
	Close       *float64  `json:"close" parquet:"close,optional"`
	Volume      *int64    `json:"volume" parquet:"volume,optional"`
	DailyReturn *float64  `json:"daily_return" parquet:"daily_return,optional"`
	IsSuspended bool      `json:"is_suspended" parquet:"is_suspended"`
	IsLimitUp   bool      `json:"is_limit_up" parquet:"is_limit_up"`
	IsLimitDown bool      `json:"is_limit_down" parquet:"is_limit_down"`
}

// Panel is the analysis-ready grid ordered by (date, code)
// ⭐ SSOT: 패널 빌더 출력 → 스냅샷/웨어하우스 입력
type Panel struct {
	Calendar TradingCalendar `json:"calendar"`
	Rows     []PanelRow      `json:"rows"`
}

// Len returns the number of rows
func (p *Panel) Len() int { return len(p.Rows) }

// Codes returns the distinct codes in first-seen order
func (p *Panel) Codes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range p.Rows {
		if !seen[r.Code] {
			seen[r.Code] = true
			out = append(out, r.Code)
		}
	}
	return out
}
