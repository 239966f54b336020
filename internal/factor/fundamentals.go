package factor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
)

// Columns of data.fundamentals exposed as factors
// ⭐ SSOT: 팩터명 → 컬럼 매핑은 여기서만
var fundamentalColumns = map[string]string{
	"revenue":          "revenue",
	"operating_profit": "operating_profit",
	"net_profit":       "net_profit",
	"roe":              "roe",
	"debt_ratio":       "debt_ratio",
	"per":              "per",
	"pbr":              "pbr",
}

// Names returns the supported factor names, sorted
func Names() []string {
	names := make([]string, 0, len(fundamentalColumns))
	for n := range fundamentalColumns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Observation is one quarterly report value
type Observation struct {
	Code       string
	ReportDate time.Time
	Value      *float64
}

// FundamentalsRepository reads quarterly fundamentals and implements contracts.FactorFetcher
type FundamentalsRepository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewFundamentalsRepository creates a new fundamentals repository
func NewFundamentalsRepository(pool *pgxpool.Pool, log *logger.Logger) *FundamentalsRepository {
	return &FundamentalsRepository{
		pool:   pool,
		logger: log.WithField("module", "factor"),
	}
}

// FetchFactors returns daily factor values over the calendar in long form.
// 분기 재무는 가격이 아니므로 다음 보고일까지 forward fill
func (r *FundamentalsRepository) FetchFactors(ctx context.Context, codes []string, factors []string, calendar contracts.TradingCalendar) ([]contracts.FactorValue, error) {
	if len(codes) == 0 || len(factors) == 0 || calendar.Len() == 0 {
		return nil, nil
	}
	if err := Validate(factors); err != nil {
		return nil, err
	}

	var out []contracts.FactorValue
	for _, name := range factors {
		obs, err := r.observations(ctx, codes, name, calendar.End())
		if err != nil {
			return nil, fmt.Errorf("factor %s: %w", name, err)
		}
		values := Expand(name, obs, calendar)
		r.logger.WithFields(map[string]interface{}{
			"factor":       name,
			"observations": len(obs),
			"rows":         len(values),
		}).Debug("Factor expanded")
		out = append(out, values...)
	}
	return out, nil
}

// Validate rejects factor names with no backing column
func Validate(factors []string) error {
	var unknown []string
	for _, name := range factors {
		if _, ok := fundamentalColumns[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return &contracts.ConfigError{
			Field:  "factors.names",
			Reason: fmt.Sprintf("unknown factor %s (supported: %s)", strings.Join(unknown, ", "), strings.Join(Names(), ", ")),
		}
	}
	return nil
}

// observations reads every report up to end for codes; earlier reports seed the fill
func (r *FundamentalsRepository) observations(ctx context.Context, codes []string, name string, end time.Time) ([]Observation, error) {
	col := pgx.Identifier{fundamentalColumns[name]}.Sanitize()
	query := `
		SELECT stock_code, report_date, ` + col + `
		FROM data.fundamentals
		WHERE stock_code = ANY($1) AND report_date <= $2
		ORDER BY stock_code, report_date
	`

	rows, err := r.pool.Query(ctx, query, codes, end)
	if err != nil {
		return nil, fmt.Errorf("query fundamentals: %w", err)
	}
	defer rows.Close()

	var obs []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.Code, &o.ReportDate, &o.Value); err != nil {
			return nil, fmt.Errorf("scan fundamentals: %w", err)
		}
		o.ReportDate = contracts.DateOnly(o.ReportDate)
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return obs, nil
}

// Expand aligns quarterly observations to every calendar date with forward fill.
// Dates before a code's first non-null report carry a nil value. Codes without
// any observation are omitted. Output is ordered by (date, code).
func Expand(name string, obs []Observation, calendar contracts.TradingCalendar) []contracts.FactorValue {
	byCode := make(map[string][]Observation)
	for _, o := range obs {
		byCode[o.Code] = append(byCode[o.Code], o)
	}
	codes := make([]string, 0, len(byCode))
	for code, list := range byCode {
		sort.SliceStable(list, func(i, j int) bool { return list[i].ReportDate.Before(list[j].ReportDate) })
		codes = append(codes, code)
	}
	sort.Strings(codes)

	// 종목별 커서: 날짜 오름차순으로 한 번만 전진
	cursor := make([]int, len(codes))
	last := make([]*float64, len(codes))

	out := make([]contracts.FactorValue, 0, len(codes)*calendar.Len())
	for _, date := range calendar.Dates {
		for i, code := range codes {
			list := byCode[code]
			for cursor[i] < len(list) && !list[cursor[i]].ReportDate.After(date) {
				if v := list[cursor[i]].Value; v != nil {
					last[i] = v
				}
				cursor[i]++
			}
			var value *float64
			if last[i] != nil {
				v := *last[i]
				value = &v
			}
			out = append(out, contracts.FactorValue{Date: date, Code: code, Factor: name, Value: value})
		}
	}
	return out
}
