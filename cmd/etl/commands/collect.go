package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-etl/internal/s0_data/collector"
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "기준 데이터 수집",
	Long: `유니버스 선정에 쓰이는 기준 데이터를 수집합니다.

Subcommands:
  stocks       - KRX KIND 상장법인 목록 → data.stocks
  market-caps  - Naver 시가총액 랭킹 → data.market_cap
  all          - stocks 다음 market-caps

Example:
  go run ./cmd/etl collect all
  go run ./cmd/etl collect stocks --markets KOSPI,KOSDAQ,KONEX`,
}

var collectMarkets []string

var (
	collectStocksCmd = &cobra.Command{
		Use:   "stocks",
		Short: "상장법인 목록 수집",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(func(ctx context.Context, c *collector.Collector, markets []string) error {
				_, err := c.CollectStocks(ctx, markets)
				return err
			})
		},
	}

	collectMarketCapsCmd = &cobra.Command{
		Use:   "market-caps",
		Short: "시가총액 수집",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(func(ctx context.Context, c *collector.Collector, markets []string) error {
				_, err := c.CollectMarketCaps(ctx, markets)
				return err
			})
		},
	}

	collectAllCmd = &cobra.Command{
		Use:   "all",
		Short: "전체 기준 데이터 수집",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(func(ctx context.Context, c *collector.Collector, markets []string) error {
				_, stocksErr := c.CollectStocks(ctx, markets)
				_, capsErr := c.CollectMarketCaps(ctx, markets)
				return errors.Join(stocksErr, capsErr)
			})
		},
	}
)

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.AddCommand(collectStocksCmd)
	collectCmd.AddCommand(collectMarketCapsCmd)
	collectCmd.AddCommand(collectAllCmd)

	collectCmd.PersistentFlags().StringSliceVar(&collectMarkets, "markets", nil, "시장 (기본: settings top_stocks.markets)")
}

func runCollect(fn func(ctx context.Context, c *collector.Collector, markets []string) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	col, err := a.referenceCollector(ctx)
	if err != nil {
		return err
	}

	markets := collectMarkets
	if len(markets) == 0 {
		markets = a.settings.TopStocks.Markets
	}

	start := time.Now()
	PrintInfo(fmt.Sprintf("Collecting reference data for %v", markets))
	if err := fn(ctx, col, markets); err != nil {
		PrintError(err.Error())
		return err
	}
	PrintSuccess(fmt.Sprintf("Collection completed in %.2fs", time.Since(start).Seconds()))
	return nil
}
