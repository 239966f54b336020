package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-etl/internal/api"
	"github.com/wonny/aegis-etl/internal/api/handlers"
	"github.com/wonny/aegis-etl/internal/pipeline"
	"github.com/wonny/aegis-etl/internal/scheduler"
	"github.com/wonny/aegis-etl/internal/scheduler/jobs"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "스케줄러 + 상태 API 시작",
	Long: `정기 ETL 스케줄러와 상태 API 서버를 시작합니다.

등록되는 작업 (Asia/Seoul):
- data_collection: 평일 오후 4시 (상장법인 목록 + 시가총액)
- etl: 평일 오후 6시 (유니버스 선정 → 가격 → 패널 → 적재)

settings에 market_value_dates와 prices가 있으면 그대로 재실행하고,
없으면 최근 --window-days 일을 대상으로 실행합니다.

Endpoints:
  GET  /health
  GET  /api/runs
  GET  /api/runs/{id}
  GET  /api/jobs
  GET  /api/jobs/{name}/history
  POST /api/jobs/{name}/run

스케줄러는 Ctrl+C로 종료할 수 있습니다.`,
	RunE: runSchedule,
}

var (
	scheduleWindowDays int
	scheduleETLCron    string
	schedulePort       string
	scheduleRunNow     bool
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	f := scheduleCmd.Flags()
	f.IntVar(&scheduleWindowDays, "window-days", 365, "롤링 가격 구간 (일)")
	f.StringVar(&scheduleETLCron, "etl-schedule", jobs.DefaultETLSchedule, "ETL cron (초 포함)")
	f.StringVar(&schedulePort, "port", "", "상태 API 포트 (기본: STATUS_PORT)")
	f.BoolVar(&scheduleRunNow, "run-now", false, "시작 직후 ETL 1회 실행")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis ETL Scheduler ===")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if schedulePort != "" {
		a.cfg.StatusPort = schedulePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	base, dates, err := pipeline.ParamsFromSettings(a.settings)
	if err != nil {
		return err
	}

	history := pipeline.NewHistory(pipeline.DefaultHistorySize)
	orch, err := a.orchestrator(ctx, history)
	if err != nil {
		return err
	}
	col, err := a.referenceCollector(ctx)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	sched := scheduler.New(retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Minute,
		MaxDelay:    5 * time.Minute,
	}, loc, a.log)

	if err := sched.AddJob(jobs.NewDataCollectionJob(col, a.settings.TopStocks.Markets, a.log)); err != nil {
		return err
	}
	etlJob := jobs.NewETLJob(orch, jobs.RollingParams(base, dates, scheduleWindowDays), scheduleETLCron, a.log)
	if err := sched.AddJob(etlJob); err != nil {
		return err
	}

	router := api.NewRouter(
		handlers.NewRunsHandler(history, a.log),
		handlers.NewJobsHandler(sched, a.log),
		a.log,
	)
	server := api.New(a.cfg, a.log, router)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx) }()

	sched.Start()
	fmt.Println("\n✅ Scheduler started successfully")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Printf("\nStatus API on :%s\n", a.cfg.StatusPort)
	fmt.Println("Press Ctrl+C to stop")

	if scheduleRunNow {
		if err := sched.RunJob(etlJob.Name()); err != nil {
			a.log.WithError(err).Warn("Failed to trigger initial ETL run")
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = <-serverErr
	case runErr = <-serverErr:
		a.log.WithError(runErr).Error("Status server stopped")
	}

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")
	return runErr
}
