package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/dataset"
	"github.com/wonny/aegis-etl/internal/panel"
	"github.com/wonny/aegis-etl/internal/s0_data/collector"
	"github.com/wonny/aegis-etl/internal/snapshot"
	"github.com/wonny/aegis-etl/internal/storage"
	"github.com/wonny/aegis-etl/internal/warehouse"
	"github.com/wonny/aegis-etl/pkg/config"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// PriceCollector fetches the OHLCV history of every code
type PriceCollector interface {
	Collect(ctx context.Context, codes []string, from, to time.Time) (contracts.PriceBatch, []collector.FetchResult, error)
}

// Deps are the collaborators of a run. Benchmark, Factors and Blob may be nil;
// the matching sub-stage is then skipped.
type Deps struct {
	Universe  contracts.UniverseFetcher
	Prices    PriceCollector
	Benchmark contracts.BenchmarkFetcher
	Factors   contracts.FactorFetcher
	Blob      contracts.BlobStore
	Loader    *warehouse.Loader
}

// Config holds run-independent settings
type Config struct {
	DataDir      string // 로컬 스냅샷 루트
	UploadPrefix string // 오브젝트 키 접두사
	Limits       config.LimitSettings
	Retry        retry.Policy
}

// StageError reports the stage a run failed in
type StageError struct {
	Stage contracts.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage of a StageError in err's chain
func FailedStage(err error) (contracts.Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// RunSummary describes one run, successful or not
type RunSummary struct {
	RunID           string                 `json:"run_id"`
	MarketValueDate string                 `json:"market_value_date"`
	Target          string                 `json:"target,omitempty"`
	Stage           contracts.Stage        `json:"stage"`
	FailedStage     contracts.Stage        `json:"failed_stage,omitempty"`
	Error           string                 `json:"error,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
	UniverseSize    int                    `json:"universe_size"`
	RawRows         int                    `json:"raw_rows"`
	Duplicates      int                    `json:"duplicates"`
	Panel           panel.Stats            `json:"panel"`
	Files           snapshot.Files         `json:"files"`
	Uploaded        []string               `json:"uploaded,omitempty"`
	Loads           []warehouse.LoadResult `json:"loads,omitempty"`
	Skipped         []string               `json:"skipped,omitempty"`
}

// Orchestrator drives one run through the stages
// ⭐ SSOT: 파이프라인 단계 전이는 여기서만
type Orchestrator struct {
	deps    Deps
	config  Config
	history *History
	logger  *logger.Logger
	now     func() time.Time
}

// New creates an orchestrator
func New(deps Deps, cfg Config, log *logger.Logger) *Orchestrator {
	cfg.Retry.Retryable = contracts.IsRetryable
	return &Orchestrator{
		deps:   deps,
		config: cfg,
		logger: log.WithField("module", "pipeline"),
		now:    time.Now,
	}
}

// WithHistory records every finished run into h
func (o *Orchestrator) WithHistory(h *History) *Orchestrator {
	o.history = h
	return o
}

// run carries the intermediate results between stages
type run struct {
	params    Params
	target    dataset.Target
	universe  *contracts.Universe
	batch     contracts.PriceBatch
	benchmark []contracts.BenchmarkRow
	panel     *contracts.Panel
	summary   *RunSummary
	log       *logger.Logger
}

// Run executes one market value date. The summary is returned on failure too,
// with Stage FAILED and the failing stage recorded. Nothing is rolled back.
func (o *Orchestrator) Run(ctx context.Context, p Params) (*RunSummary, error) {
	sum := &RunSummary{
		RunID:           uuid.NewString(),
		MarketValueDate: p.MarketValueDate.Format(config.DateLayout),
		StartedAt:       o.now(),
	}
	r := &run{
		params:  p,
		summary: sum,
		log: o.logger.WithFields(map[string]interface{}{
			"run_id":            sum.RunID,
			"market_value_date": sum.MarketValueDate,
		}),
	}

	stages := []struct {
		stage contracts.Stage
		fn    func(ctx context.Context, r *run) error
	}{
		{contracts.StageSelectingUniverse, o.selectUniverse},
		{contracts.StageFetchingPrices, o.fetchPrices},
		{contracts.StageBuildingPanel, o.buildPanel},
		{contracts.StageStagingLocal, o.stageLocal},
		{contracts.StageLoadingWarehouse, o.loadWarehouse},
	}

	var runErr error
	for _, s := range stages {
		sum.Stage = s.stage
		start := time.Now()
		r.log.WithField("stage", s.stage.String()).Info("Stage started")

		if err := s.fn(ctx, r); err != nil {
			runErr = &StageError{Stage: s.stage, Err: err}
			sum.FailedStage = s.stage
			sum.Stage = contracts.StageFailed
			sum.Error = err.Error()
			r.log.WithError(err).WithField("stage", s.stage.String()).Error("Stage failed")
			break
		}
		r.log.WithFields(map[string]interface{}{
			"stage":    s.stage.String(),
			"duration": time.Since(start).String(),
		}).Info("Stage completed")
	}

	if runErr == nil {
		sum.Stage = contracts.StageDone
	}
	sum.FinishedAt = o.now()
	if o.history != nil {
		o.history.Add(*sum)
	}

	r.log.WithFields(map[string]interface{}{
		"stage":    sum.Stage.String(),
		"target":   sum.Target,
		"duration": sum.FinishedAt.Sub(sum.StartedAt).String(),
	}).Info("Run finished")
	return sum, runErr
}

// RunAll runs each market value date in order and stops at the first failure
func (o *Orchestrator) RunAll(ctx context.Context, p Params, dates []time.Time) ([]*RunSummary, error) {
	if len(dates) == 0 {
		return nil, &contracts.ConfigError{Field: "market_value_dates", Reason: "at least one date is required"}
	}

	summaries := make([]*RunSummary, 0, len(dates))
	for _, d := range dates {
		p.MarketValueDate = d
		sum, err := o.Run(ctx, p)
		summaries = append(summaries, sum)
		if err != nil {
			return summaries, fmt.Errorf("market value date %s: %w", d.Format(config.DateLayout), err)
		}
	}
	return summaries, nil
}

func (o *Orchestrator) policy(name string) retry.Policy {
	p := o.config.Retry
	p.Name = name
	return p.WithLogging(o.logger)
}

// --- stages ---

func (o *Orchestrator) selectUniverse(ctx context.Context, r *run) error {
	if err := r.params.Validate(); err != nil {
		return err
	}
	target, err := r.params.Target()
	if err != nil {
		return err
	}
	r.target = target
	r.summary.Target = target.ID()

	universe, err := retry.DoValue(ctx, o.policy("fetch universe"), func(ctx context.Context) (*contracts.Universe, error) {
		return o.deps.Universe.FetchUniverse(ctx, r.params.UniverseQuery())
	})
	if err != nil {
		return err
	}
	if universe == nil || universe.Count() == 0 {
		return &contracts.EmptyUniverseError{ReferenceDate: r.params.MarketValueDate}
	}
	r.universe = universe
	r.summary.UniverseSize = universe.Count()
	return nil
}

func (o *Orchestrator) fetchPrices(ctx context.Context, r *run) error {
	batch, _, err := o.deps.Prices.Collect(ctx, r.universe.Codes(), r.params.Start, r.params.End)
	if err != nil {
		return err
	}
	r.batch = batch
	r.summary.RawRows = len(batch.Rows)

	switch {
	case r.params.Skip.Benchmark:
		r.summary.Skipped = append(r.summary.Skipped, "benchmark")
	case o.deps.Benchmark == nil || len(r.params.BenchmarkIndexIDs) == 0:
		r.summary.Skipped = append(r.summary.Skipped, "benchmark (not configured)")
	default:
		for _, id := range r.params.BenchmarkIndexIDs {
			rows, err := retry.DoValue(ctx, o.policy("fetch benchmark "+id), func(ctx context.Context) ([]contracts.BenchmarkRow, error) {
				return o.deps.Benchmark.FetchBenchmark(ctx, id, r.params.Start, r.params.End)
			})
			if err != nil {
				return fmt.Errorf("benchmark %s: %w", id, err)
			}
			r.benchmark = append(r.benchmark, rows...)
		}
	}
	return nil
}

func (o *Orchestrator) buildPanel(ctx context.Context, r *run) error {
	// 중복 (종목, 날짜)는 빌더가 결정적으로 해소하지만 원천 이상 신호이므로 경고
	if dups := panel.Duplicates(r.batch); len(dups) > 0 {
		r.summary.Duplicates = len(dups)
		r.log.WithFields(map[string]interface{}{
			"count": len(dups),
			"first": fmt.Sprintf("%s@%s", dups[0].Code, dups[0].Date.Format(config.DateLayout)),
		}).Warn("Duplicate (date, stock_id) rows in raw batch")
	}

	calendar := contracts.CalendarFromBatch(r.batch)
	p, err := panel.Build(r.batch, r.universe, calendar, panel.Config{Limits: o.config.Limits})
	if err != nil {
		return err
	}
	r.panel = p
	r.summary.Panel = panel.Summarize(p)

	r.log.WithFields(map[string]interface{}{
		"rows":        r.summary.Panel.Rows,
		"instruments": r.summary.Panel.Instruments,
		"dates":       r.summary.Panel.Dates,
		"suspended":   r.summary.Panel.Suspended,
	}).Info("Panel built")
	return nil
}

func (o *Orchestrator) stageLocal(ctx context.Context, r *run) error {
	files, err := snapshot.SaveLocal(o.config.DataDir, r.target, r.batch, r.panel)
	if err != nil {
		return err
	}
	if len(r.benchmark) > 0 {
		if files.Benchmark, err = snapshot.SaveBenchmark(o.config.DataDir, r.target, r.benchmark); err != nil {
			return err
		}
	}
	r.summary.Files = files

	if r.params.Skip.Upload || o.deps.Blob == nil {
		r.summary.Skipped = append(r.summary.Skipped, "upload")
		return nil
	}
	for _, local := range files.All() {
		key := SnapshotKey(o.config.UploadPrefix, r.target, local)
		if err := retry.Do(ctx, o.policy("upload "+key), func(ctx context.Context) error {
			return o.deps.Blob.Upload(ctx, local, key)
		}); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		r.summary.Uploaded = append(r.summary.Uploaded, key)
	}
	return nil
}

func (o *Orchestrator) loadWarehouse(ctx context.Context, r *run) error {
	schema := r.target.Dataset
	load := func(batch warehouse.Batch, name string, keys []string, mode warehouse.Mode) error {
		res, err := o.deps.Loader.Load(ctx, batch, warehouse.Table{Schema: schema, Name: name}, keys, mode)
		if err != nil {
			return err
		}
		r.summary.Loads = append(r.summary.Loads, *res)
		return nil
	}

	// 가격 팩트: upsert (재실행 안전)
	if err := load(PriceBatch(r.panel), r.target.Table(TableFactPrice), keysFactPrice, warehouse.ModeMerge); err != nil {
		return err
	}
	if err := load(UniverseBatch(r.universe), r.target.Table(TableDimUniverse), keysDimUniverse, warehouse.ModeReplace); err != nil {
		return err
	}

	if r.params.Skip.Calendar {
		r.summary.Skipped = append(r.summary.Skipped, "calendar")
	} else if err := load(CalendarBatch(r.panel.Calendar), TableDimCalendar, keysDimCalendar, warehouse.ModeReplace); err != nil {
		return err
	}

	if len(r.benchmark) > 0 {
		if err := load(BenchmarkBatch(r.benchmark), TableFactBenchmark, keysFactBenchmark, warehouse.ModeReplace); err != nil {
			return err
		}
	}

	if len(r.params.BacktestConfig) > 0 {
		if err := load(BacktestConfigBatch(r.params.BacktestConfig), TableBacktestConfig, keysBacktestConfig, warehouse.ModeReplace); err != nil {
			return err
		}
	}

	if !r.params.Factors.Enabled {
		return nil
	}
	return o.loadFactors(ctx, r, load)
}

func (o *Orchestrator) loadFactors(ctx context.Context, r *run, load func(warehouse.Batch, string, []string, warehouse.Mode) error) error {
	if o.deps.Factors == nil {
		return &contracts.ConfigError{Field: "factors", Reason: "no factor source configured"}
	}

	f := r.params.Factors
	values, err := retry.DoValue(ctx, o.policy("fetch factors"), func(ctx context.Context) ([]contracts.FactorValue, error) {
		return o.deps.Factors.FetchFactors(ctx, r.universe.Codes(), f.Names, r.panel.Calendar)
	})
	if err != nil {
		return fmt.Errorf("fetch factors: %w", err)
	}
	if len(values) == 0 {
		r.log.WithField("factors", f.Names).Warn("No factor data for universe")
		r.summary.Skipped = append(r.summary.Skipped, "factors (no data)")
		return nil
	}

	ft := r.target.WithSuffix(f.TableSuffix)
	if err := load(FactorBatch(values), ft.Table(TableFactFactor), keysFactFactor, warehouse.ModeReplace); err != nil {
		return err
	}

	ranks, err := FactorRankBatch(values, f.Names, f.Weights, f.PositiveCorr)
	if err != nil {
		return err
	}
	return load(ranks, ft.Table(TableFactFactorRank), keysFactFactor, warehouse.ModeReplace)
}

// SnapshotKey is the object key of a local snapshot file: <prefix>/<dataset>/<file>
func SnapshotKey(prefix string, target dataset.Target, localPath string) string {
	return storage.ObjectKey(path.Join(prefix, target.Dataset), localPath)
}
