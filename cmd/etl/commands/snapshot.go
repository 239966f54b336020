package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/dataset"
	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/internal/snapshot"
	"github.com/wonny/aegis-etl/internal/storage"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "로컬 스냅샷 관리",
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "업로드된 스냅샷을 로컬로 복원",
	Long: `오브젝트 스토리지에 업로드된 Parquet 스냅샷을 DATA_DIR로 내려받고
행 수를 확인합니다. 대상은 run과 같은 파라미터로 결정됩니다.

Example:
  go run ./cmd/etl snapshot pull --market-value-date 2023-12-28 --start 2024-01-02 --end 2024-03-29`,
	RunE: runSnapshotPull,
}

var pullOpts runFlags

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotPullCmd)
	addParamFlags(snapshotPullCmd, &pullOpts)
}

func runSnapshotPull(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, dates, err := resolveParams(cmd, a.settings, pullOpts)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return fmt.Errorf("no market value date: set --market-value-date or top_stocks.market_value_dates")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	blob, err := a.blobStore(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	for _, d := range dates {
		p.MarketValueDate = d
		target, err := p.Target()
		if err != nil {
			return err
		}
		if err := pullTarget(ctx, a, blob, target); err != nil {
			return err
		}
	}
	return nil
}

func pullTarget(ctx context.Context, a *app, blob contracts.BlobStore, target dataset.Target) error {
	fmt.Printf("\n📦 %s\n", target.ID())

	for _, kind := range []string{snapshot.KindRaw, snapshot.KindPanel, snapshot.KindBenchmark} {
		local := snapshot.Path(a.cfg.DataDir, target, kind)
		key := pipeline.SnapshotKey(uploadPrefix, target, local)

		policy := a.policy
		policy.Name = "download " + key
		err := retry.Do(ctx, policy.WithLogging(a.log), func(ctx context.Context) error {
			return blob.Download(ctx, key, local)
		})
		if err != nil {
			// 벤치마크는 --skip-benchmark 실행에서 없을 수 있음
			if kind == snapshot.KindBenchmark && storage.IsNotExist(err) {
				PrintWarning(fmt.Sprintf("No benchmark snapshot at %s", key))
				continue
			}
			return fmt.Errorf("download %s: %w", key, err)
		}

		switch kind {
		case snapshot.KindRaw:
			batch, err := snapshot.ReadRaw(local)
			if err != nil {
				return err
			}
			fmt.Printf("   %-16s %8d rows  %s\n", kind, len(batch.Rows), local)
		case snapshot.KindPanel:
			rows, err := snapshot.ReadPanel(local)
			if err != nil {
				return err
			}
			fmt.Printf("   %-16s %8d rows  %s\n", kind, len(rows), local)
		default:
			fmt.Printf("   %-16s %8s       %s\n", kind, "-", local)
		}
	}
	return nil
}
