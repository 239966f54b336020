package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Aegis ETL - 국내 주식 시장 데이터 적재",
	Long: `Aegis ETL

시가총액 상위 N 종목 유니버스를 선정하고 일봉 OHLCV를 수집해
분석용 패널로 변환한 뒤 웨어하우스에 멱등 적재합니다.

Usage:
  go run ./cmd/etl [command]

Examples:
  go run ./cmd/etl run --market-value-date 2023-12-28 --start 2024-01-02 --end 2024-03-29
  go run ./cmd/etl collect all
  go run ./cmd/etl schedule
  go run ./cmd/etl snapshot pull --market-value-date 2023-12-28
  go run ./cmd/etl test-db`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "pipeline settings YAML (default: SETTINGS_PATH or config/settings.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
}
