package warehouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-etl/internal/contracts"
	"github.com/wonny/aegis-etl/pkg/logger"
	"github.com/wonny/aegis-etl/pkg/retry"
)

// fakeBackend keeps tables in memory and fails calls on demand
type fakeBackend struct {
	mu       sync.Mutex
	tables   map[string][]Column
	rows     map[string]int
	failures map[string][]error
	calls    map[string]int
	dropped  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tables:   make(map[string][]Column),
		rows:     make(map[string]int),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeBackend) failNext(method string, errs ...error) {
	f.failures[method] = append(f.failures[method], errs...)
}

func (f *fakeBackend) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if errs := f.failures[method]; len(errs) > 0 {
		f.failures[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) EnsureSchema(ctx context.Context, schema string) error {
	return f.hit("EnsureSchema")
}

func (f *fakeBackend) Columns(ctx context.Context, t Table) ([]Column, bool, error) {
	if err := f.hit("Columns"); err != nil {
		return nil, false, err
	}
	cols, ok := f.tables[t.String()]
	return cols, ok, nil
}

func (f *fakeBackend) CreateStaging(ctx context.Context, t Table, batch Batch) error {
	if err := f.hit("CreateStaging"); err != nil {
		return err
	}
	f.tables[t.String()] = batch.Columns
	f.rows[t.String()] = batch.Len()
	return nil
}

func (f *fakeBackend) MergeFrom(ctx context.Context, target, staging Table, cols []Column, keys []string) (int64, error) {
	if err := f.hit("MergeFrom"); err != nil {
		return 0, err
	}
	f.tables[target.String()] = cols
	n := f.rows[staging.String()]
	f.rows[target.String()] += n
	return int64(n), nil
}

func (f *fakeBackend) ReplaceAll(ctx context.Context, target Table, batch Batch, keys []string) (int64, error) {
	if err := f.hit("ReplaceAll"); err != nil {
		return 0, err
	}
	f.tables[target.String()] = batch.Columns
	f.rows[target.String()] = batch.Len()
	return int64(batch.Len()), nil
}

func (f *fakeBackend) DropTable(ctx context.Context, t Table) error {
	if err := f.hit("DropTable"); err != nil {
		return err
	}
	delete(f.tables, t.String())
	delete(f.rows, t.String())
	f.dropped = append(f.dropped, t.String())
	return nil
}

func (f *fakeBackend) Count(ctx context.Context, t Table) (int64, error) {
	if err := f.hit("Count"); err != nil {
		return 0, err
	}
	return int64(f.rows[t.String()]), nil
}

func (f *fakeBackend) Close() error { return nil }

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

var (
	priceCols = []Column{
		{Name: "date", Type: TypeDate},
		{Name: "code", Type: TypeText},
		{Name: "close", Type: TypeFloat},
	}
	priceKeys = []string{"date", "code"}
	target    = Table{Schema: "aegis_top20", Name: "fact_price_test"}
)

func smallBatch() Batch {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return Batch{
		Columns: priceCols,
		Rows: [][]any{
			{d, "005930", 100.0},
			{d, "000660", 200.0},
			{d.AddDate(0, 0, 1), "005930", nil},
		},
	}
}

func newTestLoader(b Backend) *Loader {
	l := NewLoader(b, testPolicy(), logger.Nop())
	l.newID = func() string { return "abc123" }
	return l
}

func TestLoader_Merge(t *testing.T) {
	fb := newFakeBackend()
	l := newTestLoader(fb)

	res, err := l.Load(context.Background(), smallBatch(), target, priceKeys, ModeMerge)
	require.NoError(t, err)

	assert.Equal(t, "aegis_top20.fact_price_test", res.Target)
	assert.Equal(t, ModeMerge, res.Mode)
	assert.Equal(t, 3, res.RowsIn)
	assert.EqualValues(t, 3, res.RowsWritten)
	assert.EqualValues(t, 3, res.TargetRows)

	assert.Equal(t, []string{"aegis_top20.fact_price_test__stg_abc123"}, fb.dropped)
	assert.NotContains(t, fb.tables, "aegis_top20.fact_price_test__stg_abc123")
}

func TestLoader_RetriesTransientErrors(t *testing.T) {
	fb := newFakeBackend()
	fb.failNext("CreateStaging", &pgconn.PgError{Code: "40001"})
	fb.failNext("MergeFrom", &pgconn.PgError{Code: "57P01"})
	l := newTestLoader(fb)

	res, err := l.Load(context.Background(), smallBatch(), target, priceKeys, ModeMerge)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.TargetRows)
	assert.Equal(t, 2, fb.calls["CreateStaging"])
	assert.Equal(t, 2, fb.calls["MergeFrom"])
}

func TestLoader_ExhaustedIsLoadError(t *testing.T) {
	fb := newFakeBackend()
	transient := &pgconn.PgError{Code: "40P01"}
	fb.failNext("MergeFrom", transient, transient, transient)
	l := newTestLoader(fb)

	_, err := l.Load(context.Background(), smallBatch(), target, priceKeys, ModeMerge)

	var le *contracts.LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "aegis_top20.fact_price_test", le.Target)

	var ex *retry.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, fb.calls["MergeFrom"])

	// staging dropped on failure too
	assert.Equal(t, []string{"aegis_top20.fact_price_test__stg_abc123"}, fb.dropped)
}

func TestLoader_NonTransientNotRetried(t *testing.T) {
	fb := newFakeBackend()
	fb.failNext("MergeFrom", &pgconn.PgError{Code: "23502"}) // not_null_violation
	l := newTestLoader(fb)

	_, err := l.Load(context.Background(), smallBatch(), target, priceKeys, ModeMerge)

	var le *contracts.LoadError
	require.ErrorAs(t, err, &le)
	var ex *retry.ExhaustedError
	assert.False(t, errors.As(err, &ex))
	assert.Equal(t, 1, fb.calls["MergeFrom"])
	assert.Len(t, fb.dropped, 1)
}

func TestLoader_SchemaMismatch(t *testing.T) {
	fb := newFakeBackend()
	fb.tables[target.String()] = []Column{
		{Name: "date", Type: TypeDate},
		{Name: "code", Type: TypeText},
		{Name: "close", Type: TypeText},
		{Name: "volume", Type: TypeInt},
	}
	l := newTestLoader(fb)

	_, err := l.Load(context.Background(), smallBatch(), target, priceKeys, ModeMerge)

	var se *contracts.SchemaError
	require.ErrorAs(t, err, &se)
	assert.ElementsMatch(t, []string{"close", "volume"}, se.Columns)
	assert.Zero(t, fb.calls["CreateStaging"], "no write after a schema mismatch")
	assert.Equal(t, 1, fb.calls["Columns"], "schema errors are not retried")
}

func TestLoader_Replace(t *testing.T) {
	fb := newFakeBackend()
	l := newTestLoader(fb)

	_, err := l.Load(context.Background(), smallBatch(), target, nil, ModeReplace)
	require.NoError(t, err)

	b := smallBatch()
	b.Rows = b.Rows[:1]
	res, err := l.Load(context.Background(), b, target, nil, ModeReplace)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.TargetRows)
	assert.Zero(t, fb.calls["CreateStaging"])
	assert.Empty(t, fb.dropped)
}

func TestLoader_InvalidBatch(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		keys    []string
		mode    Mode
		wantErr interface{}
	}{
		{"no columns", Batch{}, priceKeys, ModeMerge, &contracts.SchemaError{}},
		{"merge without keys", smallBatch(), nil, ModeMerge, &contracts.ConfigError{}},
		{"unknown mode", smallBatch(), priceKeys, Mode("append"), &contracts.ConfigError{}},
		{"key not in batch", smallBatch(), []string{"date", "stock_id"}, ModeMerge, &contracts.SchemaError{}},
		{"duplicate column", Batch{Columns: append(append([]Column{}, priceCols...), priceCols[0])}, priceKeys, ModeMerge, &contracts.SchemaError{}},
		{"short row", Batch{Columns: priceCols, Rows: [][]any{{time.Now(), "005930"}}}, priceKeys, ModeMerge, &contracts.SchemaError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			l := newTestLoader(fb)
			_, err := l.Load(context.Background(), tt.batch, target, tt.keys, tt.mode)
			require.Error(t, err)
			switch tt.wantErr.(type) {
			case *contracts.SchemaError:
				var se *contracts.SchemaError
				assert.ErrorAs(t, err, &se)
			case *contracts.ConfigError:
				var ce *contracts.ConfigError
				assert.ErrorAs(t, err, &ce)
			}
			assert.Zero(t, fb.calls["EnsureSchema"])
		})
	}
}

func TestBatch_Dedupe(t *testing.T) {
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	b := Batch{
		Columns: priceCols,
		Rows: [][]any{
			{d, "A", 1.0},
			{d, "B", 2.0},
			{d, "A", 3.0},
		},
	}

	out := b.dedupe(priceKeys)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, []any{d, "A", 3.0}, out.Rows[0], "last row wins, first-seen position kept")
	assert.Equal(t, []any{d, "B", 2.0}, out.Rows[1])
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"connection", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"schema", &contracts.SchemaError{Table: "t"}, false},
		{"config", &contracts.ConfigError{Field: "x"}, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
