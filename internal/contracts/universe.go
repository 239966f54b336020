package contracts

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UniverseMember is one ranked instrument of a universe
type UniverseMember struct {
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	Market     string     `json:"market"`                // KOSPI, KOSDAQ (가격제한폭 기준 보드)
	Industry   string     `json:"industry"`              // 업종
	ListDate   time.Time  `json:"list_date"`             // zero = 알 수 없음
	DelistDate *time.Time `json:"delist_date,omitempty"` // nil = 상장 유지
	MarketCap  int64      `json:"market_cap"`
	Rank       int        `json:"rank"` // 1 = 시총 1위
}

// Listed reports whether the member is listed on date: [list, delist)
func (m UniverseMember) Listed(date time.Time) bool {
	if !m.ListDate.IsZero() && date.Before(m.ListDate) {
		return false
	}
	if m.DelistDate != nil && !date.Before(*m.DelistDate) {
		return false
	}
	return true
}

// Universe is the top-N market value selection as of a reference date
// ⭐ SSOT: 유니버스 선정 결과 (불변)
type Universe struct {
	ReferenceDate time.Time        `json:"reference_date"`
	TopN          int              `json:"top_n"`
	Members       []UniverseMember `json:"members"` // rank 순
}

// Codes returns member codes in rank order
func (u *Universe) Codes() []string {
	codes := make([]string, len(u.Members))
	for i, m := range u.Members {
		codes[i] = m.Code
	}
	return codes
}

// Member looks up a member by code
func (u *Universe) Member(code string) (UniverseMember, bool) {
	for _, m := range u.Members {
		if m.Code == code {
			return m, true
		}
	}
	return UniverseMember{}, false
}

// Count returns the number of members
func (u *Universe) Count() int {
	return len(u.Members)
}

// UniverseQuery holds the selection parameters; with the reference date it is
// the identity of a Universe
type UniverseQuery struct {
	ReferenceDate      time.Time
	TopN               int
	Markets            []string
	ExcludedIndustries []string
	ListedBefore       *time.Time // 상장일 컷오프 (포함)
}

// Key is a stable identity string, used as the cache key
func (q UniverseQuery) Key() string {
	markets := append([]string(nil), q.Markets...)
	sort.Strings(markets)
	excluded := append([]string(nil), q.ExcludedIndustries...)
	sort.Strings(excluded)

	listed := "-"
	if q.ListedBefore != nil {
		listed = q.ListedBefore.Format("20060102")
	}

	return fmt.Sprintf("universe:%s:top%d:mk=%s:ex=%s:lb=%s",
		q.ReferenceDate.Format("20060102"),
		q.TopN,
		strings.Join(markets, ","),
		strings.Join(excluded, ","),
		listed,
	)
}
