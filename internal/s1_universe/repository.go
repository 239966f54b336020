package s1_universe

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// Candidate is a stock eligible on the reference date, before name filters and top-N
type Candidate struct {
	Code       string
	Name       string
	Market     string
	Sector     string
	ListDate   *time.Time
	DelistDate *time.Time
	MarketCap  int64
	CapDate    time.Time // 시가총액 기준일 (reference date 이하 최신)
}

// Repository reads universe candidates from data.stocks / data.market_cap
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Candidates returns stocks listed on the reference date, ranked by market cap desc.
// 시가총액은 기준일 이하 가장 최근 값 사용
func (r *Repository) Candidates(ctx context.Context, q contracts.UniverseQuery) ([]Candidate, error) {
	query := `
		SELECT
			s.code,
			s.name,
			s.market,
			COALESCE(s.sector, ''),
			s.listing_date,
			s.delisting_date,
			mc.market_cap,
			mc.trade_date
		FROM data.stocks s
		JOIN LATERAL (
			SELECT market_cap, trade_date FROM data.market_cap
			WHERE stock_code = s.code AND trade_date <= $1
			ORDER BY trade_date DESC LIMIT 1
		) mc ON TRUE
		WHERE (cardinality($2::text[]) = 0 OR s.market = ANY($2::text[]))
		  AND NOT (COALESCE(s.sector, '') = ANY($3::text[]))
		  AND (s.listing_date IS NULL OR s.listing_date <= $1)
		  AND (s.delisting_date IS NULL OR s.delisting_date > $1)
		  AND ($4::date IS NULL OR s.listing_date <= $4::date)
		  AND mc.market_cap > 0
		ORDER BY mc.market_cap DESC, s.code
	`

	markets := q.Markets
	if markets == nil {
		markets = []string{}
	}
	excluded := q.ExcludedIndustries
	if excluded == nil {
		excluded = []string{}
	}

	rows, err := r.db.Query(ctx, query, q.ReferenceDate, markets, excluded, q.ListedBefore)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.Code,
			&c.Name,
			&c.Market,
			&c.Sector,
			&c.ListDate,
			&c.DelistDate,
			&c.MarketCap,
			&c.CapDate,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate candidates: %w", rows.Err())
	}

	return candidates, nil
}
