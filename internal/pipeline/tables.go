package pipeline

import (
	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/factor"
	"github.com/wonny/aegis-etl/internal/warehouse"
)

// Warehouse base table names
// ⭐ SSOT: 적재 테이블명/키는 여기서만
const (
	TableFactPrice      = "fact_price"
	TableDimUniverse    = "dim_universe"
	TableDimCalendar    = "dim_calendar"
	TableFactBenchmark  = "fact_benchmark_daily"
	TableBacktestConfig = "dim_backtest_config"
	TableFactFactor     = "fact_factor"
	TableFactFactorRank = "fact_factor_rank"
)

// Merge / replace keys per table
var (
	keysFactPrice      = []string{"date", "stock_id"}
	keysDimUniverse    = []string{"stock_id"}
	keysDimCalendar    = []string{"date"}
	keysFactBenchmark  = []string{"date", "index_id"}
	keysBacktestConfig = []string{"config_key"}
	keysFactFactor     = []string{"date", "stock_id", "factor_name"}
)

// WeightedFactorName is the factor_name of the combined multi-factor rank
const WeightedFactorName = "weighted"

func priceColumns() []warehouse.Column {
	return []warehouse.Column{
		{Name: "date", Type: warehouse.TypeDate},
		{Name: "stock_id", Type: warehouse.TypeText},
		{Name: "open", Type: warehouse.TypeFloat},
		{Name: "high", Type: warehouse.TypeFloat},
		{Name: "low", Type: warehouse.TypeFloat},
		{Name: "close", Type: warehouse.TypeFloat},
		{Name: "volume", Type: warehouse.TypeInt},
		{Name: "daily_return", Type: warehouse.TypeFloat},
		{Name: "is_suspended", Type: warehouse.TypeBool},
		{Name: "is_limit_up", Type: warehouse.TypeBool},
		{Name: "is_limit_down", Type: warehouse.TypeBool},
	}
}

// PriceBatch converts the panel into fact_price rows
func PriceBatch(p *contracts.Panel) warehouse.Batch {
	rows := make([][]any, len(p.Rows))
	for i, r := range p.Rows {
		rows[i] = []any{
			r.Date, r.Code,
			floatOrNil(r.Open), floatOrNil(r.High), floatOrNil(r.Low), floatOrNil(r.Close),
			intOrNil(r.Volume), floatOrNil(r.DailyReturn),
			r.IsSuspended, r.IsLimitUp, r.IsLimitDown,
		}
	}
	return warehouse.Batch{Columns: priceColumns(), Rows: rows}
}

// UniverseBatch converts the universe into dim_universe rows
func UniverseBatch(u *contracts.Universe) warehouse.Batch {
	cols := []warehouse.Column{
		{Name: "stock_id", Type: warehouse.TypeText},
		{Name: "stock_name", Type: warehouse.TypeText},
		{Name: "market", Type: warehouse.TypeText},
		{Name: "industry", Type: warehouse.TypeText},
		{Name: "list_date", Type: warehouse.TypeDate},
		{Name: "delist_date", Type: warehouse.TypeDate},
		{Name: "market_cap", Type: warehouse.TypeInt},
		{Name: "mv_rank", Type: warehouse.TypeInt},
		{Name: "market_value_date", Type: warehouse.TypeDate},
	}

	rows := make([][]any, len(u.Members))
	for i, m := range u.Members {
		var listDate, delistDate any
		if !m.ListDate.IsZero() {
			listDate = m.ListDate
		}
		if m.DelistDate != nil {
			delistDate = contracts.DateOnly(*m.DelistDate)
		}
		rows[i] = []any{
			m.Code, m.Name, m.Market, m.Industry,
			listDate, delistDate,
			m.MarketCap, int64(m.Rank), u.ReferenceDate,
		}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}
}

// CalendarBatch converts the trading calendar into dim_calendar rows
func CalendarBatch(cal contracts.TradingCalendar) warehouse.Batch {
	cols := []warehouse.Column{
		{Name: "date", Type: warehouse.TypeDate},
		{Name: "is_trading_day", Type: warehouse.TypeInt},
	}
	rows := make([][]any, cal.Len())
	for i, d := range cal.Dates {
		rows[i] = []any{d, int64(1)}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}
}

// BenchmarkBatch converts benchmark rows into fact_benchmark_daily rows
func BenchmarkBatch(bench []contracts.BenchmarkRow) warehouse.Batch {
	cols := []warehouse.Column{
		{Name: "date", Type: warehouse.TypeDate},
		{Name: "index_id", Type: warehouse.TypeText},
		{Name: "close", Type: warehouse.TypeFloat},
		{Name: "daily_return", Type: warehouse.TypeFloat},
	}
	rows := make([][]any, len(bench))
	for i, r := range bench {
		rows[i] = []any{r.Date, r.IndexID, r.Close, floatOrNil(r.DailyReturn)}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}
}

// BacktestConfigBatch converts key/value pairs into dim_backtest_config rows
func BacktestConfigBatch(pairs [][2]string) warehouse.Batch {
	cols := []warehouse.Column{
		{Name: "config_key", Type: warehouse.TypeText},
		{Name: "config_value", Type: warehouse.TypeText},
	}
	rows := make([][]any, len(pairs))
	for i, p := range pairs {
		rows[i] = []any{p[0], p[1]}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}
}

// FactorBatch converts long-form factor values into fact_factor rows
func FactorBatch(values []contracts.FactorValue) warehouse.Batch {
	cols := []warehouse.Column{
		{Name: "date", Type: warehouse.TypeDate},
		{Name: "stock_id", Type: warehouse.TypeText},
		{Name: "factor_name", Type: warehouse.TypeText},
		{Name: "value", Type: warehouse.TypeFloat},
	}
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.Date, v.Code, v.Factor, floatOrNil(v.Value)}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}
}

// FactorRankBatch ranks every factor per date and, with more than one factor,
// appends the weighted combination under WeightedFactorName
func FactorRankBatch(values []contracts.FactorValue, names []string, weights []float64, positiveCorr bool) (warehouse.Batch, error) {
	cols := []warehouse.Column{
		{Name: "date", Type: warehouse.TypeDate},
		{Name: "stock_id", Type: warehouse.TypeText},
		{Name: "factor_name", Type: warehouse.TypeText},
		{Name: "rank", Type: warehouse.TypeFloat},
	}

	byName := make(map[string][]contracts.FactorValue, len(names))
	for _, v := range values {
		byName[v.Factor] = append(byName[v.Factor], v)
	}

	var rows [][]any
	ranked := make([][]factor.Ranked, 0, len(names))
	for _, name := range names {
		r := factor.RankByFactor(byName[name], positiveCorr)
		ranked = append(ranked, r)
		for _, x := range r {
			rows = append(rows, []any{x.Date, x.Code, name, x.Rank})
		}
	}

	if len(names) > 1 {
		if len(weights) == 0 {
			weights = factor.EqualWeights(len(names))
		}
		combined, err := factor.WeightedRank(ranked, weights, positiveCorr)
		if err != nil {
			return warehouse.Batch{}, err
		}
		for _, x := range combined {
			rows = append(rows, []any{x.Date, x.Code, WeightedFactorName, x.Rank})
		}
	}
	return warehouse.Batch{Columns: cols, Rows: rows}, nil
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
