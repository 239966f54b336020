package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores each dataset as a postgres schema
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps a pool (normally database.DB.Pool)
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) Name() string { return "postgres" }

// Close is a no-op: the pool is owned by pkg/database
func (b *PostgresBackend) Close() error { return nil }

func pgType(t ColType) string {
	switch t {
	case TypeInt:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeBool:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func fromPgType(dataType string) ColType {
	switch dataType {
	case "bigint", "integer", "smallint":
		return TypeInt
	case "double precision", "real", "numeric":
		return TypeFloat
	case "boolean":
		return TypeBool
	case "date":
		return TypeDate
	case "timestamp with time zone", "timestamp without time zone":
		return TypeTimestamp
	default:
		return TypeText
	}
}

// defaultPGSchema is used when a table has no dataset schema
const defaultPGSchema = "public"

func pgIdentifier(t Table) pgx.Identifier {
	schema := t.Schema
	if schema == "" {
		schema = defaultPGSchema
	}
	return pgx.Identifier{schema, t.Name}
}

func pgIdent(t Table) string {
	return pgIdentifier(t).Sanitize()
}

func pgCols(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pgx.Identifier{n}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func pgCreateSQL(t Table, cols []Column, keys []string, unlogged bool) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), pgType(c.Type)))
	}
	if len(keys) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", pgCols(keys)))
	}
	kind := "TABLE"
	if unlogged {
		kind = "UNLOGGED TABLE"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s (%s)", kind, pgIdent(t), strings.Join(defs, ", "))
}

// EnsureSchema creates the dataset schema
func (b *PostgresBackend) EnsureSchema(ctx context.Context, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := b.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	return err
}

// Columns reads information_schema
func (b *PostgresBackend) Columns(ctx context.Context, t Table) ([]Column, bool, error) {
	id := pgIdentifier(t)
	rows, err := b.pool.Query(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, id[0], id[1])
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, false, err
		}
		cols = append(cols, Column{Name: name, Type: fromPgType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return cols, len(cols) > 0, nil
}

// CreateStaging creates an UNLOGGED table and COPYs the batch in one transaction.
// Regular (not TEMP) so any pooled connection can see it in MergeFrom.
func (b *PostgresBackend) CreateStaging(ctx context.Context, t Table, batch Batch) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(t)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, pgCreateSQL(t, batch.Columns, nil, true)); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	if _, err := tx.CopyFrom(ctx, pgIdentifier(t), batch.ColumnNames(), pgx.CopyFromRows(pgRows(batch))); err != nil {
		return fmt.Errorf("copy into staging: %w", err)
	}
	return tx.Commit(ctx)
}

// MergeFrom runs one INSERT … SELECT … ON CONFLICT DO UPDATE.
// Unchanged rows are skipped via IS DISTINCT FROM so RowsWritten counts real changes.
func (b *PostgresBackend) MergeFrom(ctx context.Context, target, staging Table, cols []Column, keys []string) (int64, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgCreateSQL(target, cols, keys, false)); err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	var sets, tgtVals, newVals []string
	for _, n := range names {
		if isKey[n] {
			continue
		}
		q := pgx.Identifier{n}.Sanitize()
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		tgtVals = append(tgtVals, "t."+q)
		newVals = append(newVals, "EXCLUDED."+q)
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = fmt.Sprintf("DO UPDATE SET %s WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(sets, ", "), strings.Join(tgtVals, ", "), strings.Join(newVals, ", "))
		if len(sets) == 1 {
			action = fmt.Sprintf("DO UPDATE SET %s WHERE %s IS DISTINCT FROM %s", sets[0], tgtVals[0], newVals[0])
		}
	}

	sql := fmt.Sprintf(`INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) %s`,
		pgIdent(target), pgCols(names), pgCols(names), pgIdent(staging), pgCols(keys), action)

	tag, err := tx.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("merge: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceAll: create-if-missing, DELETE, COPY in one transaction
func (b *PostgresBackend) ReplaceAll(ctx context.Context, target Table, batch Batch, keys []string) (int64, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pgCreateSQL(target, batch.Columns, keys, false)); err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+pgIdent(target)); err != nil {
		return 0, fmt.Errorf("clear target: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgIdentifier(target), batch.ColumnNames(), pgx.CopyFromRows(pgRows(batch)))
	if err != nil {
		return 0, fmt.Errorf("copy into target: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return n, nil
}

func (b *PostgresBackend) DropTable(ctx context.Context, t Table) error {
	_, err := b.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(t))
	return err
}

func (b *PostgresBackend) Count(ctx context.Context, t Table) (int64, error) {
	var n int64
	err := b.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgIdent(t)).Scan(&n)
	return n, err
}

// pgRows normalises date columns to UTC midnight
func pgRows(batch Batch) [][]any {
	var dateIdx []int
	for i, c := range batch.Columns {
		if c.Type == TypeDate {
			dateIdx = append(dateIdx, i)
		}
	}
	if len(dateIdx) == 0 {
		return batch.Rows
	}

	out := make([][]any, len(batch.Rows))
	for r, row := range batch.Rows {
		cp := append([]any(nil), row...)
		for _, i := range dateIdx {
			if t, ok := cp[i].(time.Time); ok {
				y, m, d := t.Date()
				cp[i] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
			}
		}
		out[r] = cp
	}
	return out
}
