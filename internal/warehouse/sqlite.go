package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/wonny/aegis-etl/internal/dataset"
	"github.com/wonny/aegis-etl/pkg/config"
)

// SQLiteBackend is a single-file local warehouse.
// SQLite has no schemas, so a table is stored as <schema>__<table>.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the warehouse file at path
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create warehouse dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 단일 writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// DB exposes the handle for read-side queries
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

// TableName returns the physical table name for t
func (b *SQLiteBackend) TableName(t Table) string {
	if t.Schema == "" {
		return dataset.Ident(t.Name)
	}
	return dataset.Ident(t.Schema + "__" + t.Name)
}

func (b *SQLiteBackend) quoted(t Table) string {
	return sqliteQuote(b.TableName(t))
}

func sqliteQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqliteCols(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = sqliteQuote(n)
	}
	return strings.Join(quoted, ", ")
}

func sqliteType(t ColType) string {
	switch t {
	case TypeInt:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE"
	case TypeBool:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func fromSQLiteType(declared string) ColType {
	switch strings.ToUpper(strings.TrimSpace(declared)) {
	case "BIGINT", "INTEGER", "INT":
		return TypeInt
	case "DOUBLE", "REAL", "FLOAT":
		return TypeFloat
	case "BOOLEAN":
		return TypeBool
	case "DATE":
		return TypeDate
	case "TIMESTAMP", "DATETIME":
		return TypeTimestamp
	default:
		return TypeText
	}
}

func (b *SQLiteBackend) createSQL(t Table, cols []Column, keys []string) string {
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, sqliteQuote(c.Name)+" "+sqliteType(c.Type))
	}
	if len(keys) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", sqliteCols(keys)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.quoted(t), strings.Join(defs, ", "))
}

// EnsureSchema is a no-op: the schema is part of the table name
func (b *SQLiteBackend) EnsureSchema(ctx context.Context, schema string) error {
	return nil
}

func (b *SQLiteBackend) Columns(ctx context.Context, t Table) ([]Column, bool, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", b.quoted(t)))
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid      int
			name     string
			declared string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return nil, false, err
		}
		cols = append(cols, Column{Name: name, Type: fromSQLiteType(declared)})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return cols, len(cols) > 0, nil
}

func (b *SQLiteBackend) CreateStaging(ctx context.Context, t Table, batch Batch) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+b.quoted(t)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.createSQL(t, batch.Columns, nil)); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	if _, err := b.insertRows(ctx, tx, t, batch); err != nil {
		return fmt.Errorf("insert into staging: %w", err)
	}
	return tx.Commit()
}

// MergeFrom upserts staging into target. Rows whose non-key values are
// unchanged are not touched, so the affected count is inserts + real updates.
func (b *SQLiteBackend) MergeFrom(ctx context.Context, target, staging Table, cols []Column, keys []string) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, b.createSQL(target, cols, keys)); err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	names := make([]string, len(cols))
	var sets, changed []string
	tgt := b.quoted(target)
	for i, c := range cols {
		names[i] = c.Name
		if isKey[c.Name] {
			continue
		}
		q := sqliteQuote(c.Name)
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", q, q))
		changed = append(changed, fmt.Sprintf("%s.%s IS NOT excluded.%s", tgt, q, q))
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = fmt.Sprintf("DO UPDATE SET %s WHERE %s", strings.Join(sets, ", "), strings.Join(changed, " OR "))
	}

	// "WHERE true": SELECT 뒤 ON CONFLICT 파싱 모호성 회피
	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE true ON CONFLICT (%s) %s",
		tgt, sqliteCols(names), sqliteCols(names), b.quoted(staging), sqliteCols(keys), action)

	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("merge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) ReplaceAll(ctx context.Context, target Table, batch Batch, keys []string) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, b.createSQL(target, batch.Columns, keys)); err != nil {
		return 0, fmt.Errorf("create target: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+b.quoted(target)); err != nil {
		return 0, fmt.Errorf("clear target: %w", err)
	}
	n, err := b.insertRows(ctx, tx, target, batch)
	if err != nil {
		return 0, fmt.Errorf("insert into target: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return n, nil
}

func (b *SQLiteBackend) DropTable(ctx context.Context, t Table) error {
	_, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+b.quoted(t))
	return err
}

func (b *SQLiteBackend) Count(ctx context.Context, t Table) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx, "SELECT count(*) FROM "+b.quoted(t)).Scan(&n)
	return n, err
}

func (b *SQLiteBackend) insertRows(ctx context.Context, tx *sql.Tx, t Table, batch Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(batch.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.quoted(t), sqliteCols(batch.ColumnNames()), marks))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	args := make([]any, len(batch.Columns))
	var n int64
	for _, row := range batch.Rows {
		for i, v := range row {
			args[i] = sqliteValue(batch.Columns[i].Type, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// sqliteValue stores dates as YYYY-MM-DD and timestamps as RFC3339 (UTC) text
func sqliteValue(t ColType, v any) any {
	tm, ok := v.(time.Time)
	if !ok {
		return v
	}
	switch t {
	case TypeDate:
		return tm.Format(config.DateLayout)
	default:
		return tm.UTC().Format(time.RFC3339Nano)
	}
}
