package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "ETL 1회 실행",
	Long: `시가총액 기준일별로 파이프라인을 실행합니다.

단계:
  SELECTING_UNIVERSE → FETCHING_PRICES → BUILDING_PANEL
  → STAGING_LOCAL → LOADING_WAREHOUSE → DONE

같은 파라미터로 재실행해도 결과는 동일합니다 (멱등 적재).
플래그는 settings YAML 값을 덮어씁니다.

Example:
  go run ./cmd/etl run --market-value-date 2023-12-28 --start 2024-01-02 --end 2024-03-29
  go run ./cmd/etl run --market-value-date 2023-11-30,2023-12-28 --top-n 200
  go run ./cmd/etl run --with-factors --factors roe,per --factor-table-suffix fund`,
	RunE: runETL,
}

// runFlags are the CLI overrides of the settings file
type runFlags struct {
	marketValueDates   []string
	start              string
	end                string
	topN               int
	excludedIndustries []string
	preListDate        string
	dataset            string
	skipBenchmark      bool
	skipCalendar       bool
	skipUpload         bool
	withFactors        bool
	factors            []string
	factorTableSuffix  string
}

var runOpts runFlags

func init() {
	rootCmd.AddCommand(runCmd)
	addParamFlags(runCmd, &runOpts)

	f := runCmd.Flags()
	f.BoolVar(&runOpts.skipBenchmark, "skip-benchmark", false, "벤치마크 지수 수집/적재 생략")
	f.BoolVar(&runOpts.skipCalendar, "skip-calendar", false, "dim_calendar 적재 생략")
	f.BoolVar(&runOpts.skipUpload, "skip-upload", false, "스냅샷 업로드 생략")
	f.BoolVar(&runOpts.withFactors, "with-factors", false, "펀더멘털 팩터 적재")
	f.StringSliceVar(&runOpts.factors, "factors", nil, "팩터 이름 (roe,per,...)")
	f.StringVar(&runOpts.factorTableSuffix, "factor-table-suffix", "", "팩터 테이블 접미사")
}

// addParamFlags registers the flags that identify a run destination
func addParamFlags(cmd *cobra.Command, o *runFlags) {
	f := cmd.Flags()
	f.StringSliceVar(&o.marketValueDates, "market-value-date", nil, "시가총액 기준일 YYYY-MM-DD (쉼표로 여러 개)")
	f.StringVar(&o.start, "start", "", "가격 시작일 YYYY-MM-DD")
	f.StringVar(&o.end, "end", "", "가격 종료일 YYYY-MM-DD")
	f.IntVar(&o.topN, "top-n", 0, "유니버스 종목 수")
	f.StringSliceVar(&o.excludedIndustries, "excluded-industry", nil, "제외 업종")
	f.StringVar(&o.preListDate, "pre-list-date", "", "이 날짜 이전 상장 종목만 YYYY-MM-DD")
	f.StringVar(&o.dataset, "dataset", "", "데이터셋 템플릿 (예: aegis_top{top_n})")
}

// resolveParams applies changed flags on top of the settings
func resolveParams(cmd *cobra.Command, s *config.Settings, o runFlags) (pipeline.Params, []time.Time, error) {
	changed := cmd.Flags().Changed

	if changed("market-value-date") {
		s.TopStocks.MarketValueDates = o.marketValueDates
	}
	if changed("start") {
		s.Prices.Start = o.start
	}
	if changed("end") {
		s.Prices.End = o.end
	}
	if changed("top-n") {
		s.TopStocks.TopN = o.topN
	}
	if changed("excluded-industry") {
		s.TopStocks.ExcludedIndustries = o.excludedIndustries
	}
	if changed("pre-list-date") {
		s.TopStocks.ListedBefore = o.preListDate
	}
	if changed("dataset") {
		s.Warehouse.Dataset = o.dataset
	}
	if changed("with-factors") {
		s.Factors.Enabled = o.withFactors
	}
	if changed("factors") {
		s.Factors.Names = o.factors
		s.Factors.Weights = nil
	}
	if changed("factor-table-suffix") {
		s.Factors.TableSuffix = o.factorTableSuffix
	}

	if err := s.Validate(); err != nil {
		return pipeline.Params{}, nil, fmt.Errorf("invalid settings: %w", err)
	}

	p, dates, err := pipeline.ParamsFromSettings(s)
	if err != nil {
		return pipeline.Params{}, nil, err
	}
	p.Skip = pipeline.SkipFlags{
		Benchmark: o.skipBenchmark,
		Calendar:  o.skipCalendar,
		Upload:    o.skipUpload,
	}
	return p, dates, nil
}

func runETL(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, dates, err := resolveParams(cmd, a.settings, runOpts)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return fmt.Errorf("no market value date: set --market-value-date or top_stocks.market_value_dates")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := a.orchestrator(ctx, nil)
	if err != nil {
		return err
	}

	PrintRunHeader(p, dates)
	summaries, err := orch.RunAll(ctx, p, dates)
	for _, s := range summaries {
		PrintRunSummary(s)
	}
	if err != nil {
		if stage, ok := pipeline.FailedStage(err); ok {
			PrintError(fmt.Sprintf("Failed at stage %s: %v", stage, err))
		}
		return err
	}

	PrintSuccess(fmt.Sprintf("%d run(s) completed", len(summaries)))
	return nil
}
