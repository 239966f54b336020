package s0_data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-etl/internal/external/krx"
	"github.com/wonny/aegis-etl/internal/external/naver"
)

// 배치당 행 수 (트랜잭션 타임아웃 방지)
const saveBatchSize = 500

// schemaDDL creates the reference-data tables the universe and factor queries read
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS data`,
	`CREATE TABLE IF NOT EXISTS data.stocks (
		code           TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		market         TEXT NOT NULL,
		sector         TEXT,
		products       TEXT,
		listing_date   DATE,
		delisting_date DATE,
		status         TEXT NOT NULL DEFAULT 'active',
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS data.market_cap (
		stock_code         TEXT NOT NULL,
		trade_date         DATE NOT NULL,
		market_cap         BIGINT NOT NULL,
		shares_outstanding BIGINT,
		close_price        BIGINT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (stock_code, trade_date)
	)`,
	`CREATE INDEX IF NOT EXISTS market_cap_trade_date_idx ON data.market_cap (trade_date)`,
	`CREATE TABLE IF NOT EXISTS data.fundamentals (
		stock_code       TEXT NOT NULL,
		report_date      DATE NOT NULL,
		revenue          DOUBLE PRECISION,
		operating_profit DOUBLE PRECISION,
		net_profit       DOUBLE PRECISION,
		roe              DOUBLE PRECISION,
		debt_ratio       DOUBLE PRECISION,
		per              DOUBLE PRECISION,
		pbr              DOUBLE PRECISION,
		PRIMARY KEY (stock_code, report_date)
	)`,
}

// Repository handles reference data persistence (data.stocks, data.market_cap)
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository instance
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Pool returns the underlying database pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.db
}

// EnsureTables creates the data schema tables if missing
func (r *Repository) EnsureTables(ctx context.Context) error {
	for _, ddl := range schemaDDL {
		if _, err := r.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// Stock represents a stock row
type Stock struct {
	Code   string
	Name   string
	Market string
	Status string
}

// GetActiveStocks retrieves all active stocks
func (r *Repository) GetActiveStocks(ctx context.Context) ([]Stock, error) {
	query := `
		SELECT code, name, market, status
		FROM data.stocks
		WHERE status = 'active'
		ORDER BY code
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active stocks: %w", err)
	}
	defer rows.Close()

	var stocks []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.Code, &s.Name, &s.Market, &s.Status); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		stocks = append(stocks, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stocks, nil
}

// SaveStocks upserts the KIND company directory into data.stocks
// ⭐ SSOT: 종목 마스터 저장은 이 함수에서만
func (r *Repository) SaveStocks(ctx context.Context, companies []krx.Company) (int, error) {
	query := `
		INSERT INTO data.stocks (code, name, market, sector, products, listing_date, status, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, 'active', NOW())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			market = EXCLUDED.market,
			sector = EXCLUDED.sector,
			products = EXCLUDED.products,
			listing_date = COALESCE(EXCLUDED.listing_date, data.stocks.listing_date),
			delisting_date = NULL,
			status = 'active',
			updated_at = NOW()
	`

	return saveInBatches(ctx, r.db, companies, func(b *pgx.Batch, c krx.Company) {
		var listDate *time.Time
		if !c.ListDate.IsZero() {
			d := c.ListDate
			listDate = &d
		}
		b.Queue(query, c.Code, c.Name, c.Market, c.Industry, c.Products, listDate)
	})
}

// MarkDelisted flags stocks of market that are no longer in the directory
func (r *Repository) MarkDelisted(ctx context.Context, market string, listed []string, asOf time.Time) (int64, error) {
	if len(listed) == 0 {
		// 빈 목록으로 전체 상장폐지 처리하는 사고 방지
		return 0, nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE data.stocks
		SET status = 'delisted',
		    delisting_date = COALESCE(delisting_date, $3),
		    updated_at = NOW()
		WHERE market = $1 AND status = 'active' AND NOT (code = ANY($2))
	`, market, listed, asOf)
	if err != nil {
		return 0, fmt.Errorf("mark delisted: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveMarketCaps saves market capitalization data (bulk upsert)
// ⭐ SSOT: 시가총액 데이터 저장은 이 함수에서만
func (r *Repository) SaveMarketCaps(ctx context.Context, caps []naver.MarketCapData) (int, error) {
	query := `
		INSERT INTO data.market_cap (
			stock_code, trade_date, market_cap, shares_outstanding, close_price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (stock_code, trade_date) DO UPDATE SET
			market_cap = EXCLUDED.market_cap,
			shares_outstanding = EXCLUDED.shares_outstanding,
			close_price = EXCLUDED.close_price,
			updated_at = NOW()
	`

	return saveInBatches(ctx, r.db, caps, func(b *pgx.Batch, c naver.MarketCapData) {
		b.Queue(query, c.StockCode, c.TradeDate, c.MarketCap, c.SharesOutstanding, c.ClosePrice)
	})
}

// saveInBatches queues one statement per item and commits every saveBatchSize items
func saveInBatches[T any](ctx context.Context, db *pgxpool.Pool, items []T, queue func(b *pgx.Batch, item T)) (int, error) {
	saved := 0
	for start := 0; start < len(items); start += saveBatchSize {
		end := min(start+saveBatchSize, len(items))

		err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			b := &pgx.Batch{}
			for _, item := range items[start:end] {
				queue(b, item)
			}
			return tx.SendBatch(ctx, b).Close()
		})
		if err != nil {
			return saved, fmt.Errorf("save batch %d: %w", start/saveBatchSize, err)
		}
		saved += end - start
	}
	return saved, nil
}
