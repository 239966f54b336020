package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/internal/dataset"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// Backend is a warehouse engine. Every method is one atomic unit of work so
// the loader can retry it as a whole.
type Backend interface {
	Name() string

	// EnsureSchema creates the dataset if missing
	EnsureSchema(ctx context.Context, schema string) error

	// Columns returns the live columns of t; exists=false when t is absent
	Columns(ctx context.Context, t Table) (cols []Column, exists bool, err error)

	// CreateStaging (re)creates an empty staging table and bulk loads batch into it
	CreateStaging(ctx context.Context, t Table, batch Batch) error

	// MergeFrom upserts staging into target by keys in one transaction,
	// creating target with a primary key on keys if missing
	MergeFrom(ctx context.Context, target, staging Table, cols []Column, keys []string) (int64, error)

	// ReplaceAll swaps the full contents of target with batch in one transaction
	ReplaceAll(ctx context.Context, target Table, batch Batch, keys []string) (int64, error)

	DropTable(ctx context.Context, t Table) error
	Count(ctx context.Context, t Table) (int64, error)
	Close() error
}

// LoadResult describes one applied batch
type LoadResult struct {
	Target      string        `json:"target"`
	Mode        Mode          `json:"mode"`
	RowsIn      int           `json:"rows_in"`
	RowsWritten int64         `json:"rows_written"` // 삽입 + 실제 변경된 행
	TargetRows  int64         `json:"target_rows"`
	Duration    time.Duration `json:"duration"`
}

// Loader applies batches idempotently
// ⭐ SSOT: 웨어하우스 쓰기는 Loader.Load 하나로만
type Loader struct {
	backend Backend
	policy  retry.Policy
	logger  *logger.Logger
	newID   func() string
}

// NewLoader creates a loader; policy.Retryable is replaced with IsTransient
func NewLoader(backend Backend, policy retry.Policy, log *logger.Logger) *Loader {
	l := &Loader{
		backend: backend,
		logger:  log.WithFields(map[string]interface{}{"module": "warehouse", "backend": backend.Name()}),
		newID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
	policy.Retryable = IsTransient
	if policy.Name == "" {
		policy.Name = "warehouse"
	}
	l.policy = policy.WithLogging(l.logger)
	return l
}

// Backend returns the underlying backend
func (l *Loader) Backend() Backend { return l.backend }

// Load applies batch to target.
//
//   - merge: batch deduped by keys (last wins) → staging → single upsert statement
//   - replace: create-if-missing, delete all, insert (one transaction)
//
// Schema mismatches fail fast as *contracts.SchemaError. Transient backend
// failures are retried; exhaustion and other backend failures surface as
// *contracts.LoadError.
func (l *Loader) Load(ctx context.Context, batch Batch, target Table, keys []string, mode Mode) (*LoadResult, error) {
	start := time.Now()
	log := l.logger.WithFields(map[string]interface{}{"table": target.String(), "mode": string(mode)})

	if mode != ModeMerge && mode != ModeReplace {
		return nil, &contracts.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown load mode %q", mode)}
	}
	if err := batch.validate(target.String(), keys, mode); err != nil {
		return nil, err
	}

	if err := l.do(ctx, "ensure schema", func(ctx context.Context) error {
		return l.backend.EnsureSchema(ctx, target.Schema)
	}); err != nil {
		return nil, l.loadError(target, err)
	}

	if err := l.checkSchema(ctx, target, batch.Columns); err != nil {
		return nil, err
	}

	var written int64
	var err error
	switch mode {
	case ModeMerge:
		written, err = l.merge(ctx, batch.dedupe(keys), target, keys)
	case ModeReplace:
		written, err = l.replace(ctx, batch, target, keys)
	}
	if err != nil {
		log.WithError(err).Error("Load failed")
		return nil, err
	}

	var count int64
	if err := l.do(ctx, "count", func(ctx context.Context) error {
		n, err := l.backend.Count(ctx, target)
		count = n
		return err
	}); err != nil {
		return nil, l.loadError(target, err)
	}

	res := &LoadResult{
		Target:      target.String(),
		Mode:        mode,
		RowsIn:      batch.Len(),
		RowsWritten: written,
		TargetRows:  count,
		Duration:    time.Since(start),
	}
	log.WithFields(map[string]interface{}{
		"rows_in":      res.RowsIn,
		"rows_written": res.RowsWritten,
		"target_rows":  res.TargetRows,
		"duration":     res.Duration.String(),
	}).Info("Load completed")
	return res, nil
}

func (l *Loader) checkSchema(ctx context.Context, target Table, want []Column) error {
	var have []Column
	var exists bool
	if err := l.do(ctx, "describe", func(ctx context.Context) error {
		var err error
		have, exists, err = l.backend.Columns(ctx, target)
		return err
	}); err != nil {
		return l.loadError(target, err)
	}
	if !exists {
		return nil
	}
	if ok, diff := sameColumns(want, have); !ok {
		return &contracts.SchemaError{Table: target.String(), Columns: diff, Reason: "batch columns differ from target"}
	}
	return nil
}

func (l *Loader) merge(ctx context.Context, batch Batch, target Table, keys []string) (int64, error) {
	staging := Table{
		Schema: target.Schema,
		Name:   dataset.Ident(target.Name + "__stg_" + l.newID()),
	}

	// staging 정리는 성공/실패와 무관하게 항상 (취소된 ctx로도 실행)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := l.do(cleanupCtx, "drop staging", func(ctx context.Context) error {
			return l.backend.DropTable(ctx, staging)
		}); err != nil {
			l.logger.WithError(err).WithField("staging", staging.String()).Warn("Failed to drop staging table")
		}
	}()

	if err := l.do(ctx, "stage", func(ctx context.Context) error {
		return l.backend.CreateStaging(ctx, staging, batch)
	}); err != nil {
		return 0, l.loadError(target, err)
	}

	var written int64
	if err := l.do(ctx, "merge", func(ctx context.Context) error {
		n, err := l.backend.MergeFrom(ctx, target, staging, batch.Columns, keys)
		written = n
		return err
	}); err != nil {
		return 0, l.loadError(target, err)
	}
	return written, nil
}

func (l *Loader) replace(ctx context.Context, batch Batch, target Table, keys []string) (int64, error) {
	var written int64
	if err := l.do(ctx, "replace", func(ctx context.Context) error {
		n, err := l.backend.ReplaceAll(ctx, target, batch, keys)
		written = n
		return err
	}); err != nil {
		return 0, l.loadError(target, err)
	}
	return written, nil
}

func (l *Loader) do(ctx context.Context, step string, op func(ctx context.Context) error) error {
	p := l.policy
	p.Name = l.policy.Name + ": " + step
	return retry.Do(ctx, p, op)
}

func (l *Loader) loadError(target Table, err error) error {
	var se *contracts.SchemaError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &contracts.LoadError{Target: target.String(), Err: err}
}
