package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/wonny/aegis-etl/internal/contracts"
)

// Mode selects how a batch is applied to its destination
type Mode string

const (
	// ModeMerge: staging → 키 기준 upsert (가격 팩트 테이블)
	ModeMerge Mode = "merge"
	// ModeReplace: 전체 교체 (차원/참조 테이블)
	ModeReplace Mode = "replace"
)

// ColType is a logical column type; each backend maps it to a native type
type ColType string

const (
	TypeText      ColType = "text"
	TypeInt       ColType = "int"
	TypeFloat     ColType = "float"
	TypeBool      ColType = "bool"
	TypeDate      ColType = "date"
	TypeTimestamp ColType = "timestamp"
)

// Column is a named, typed column
type Column struct {
	Name string
	Type ColType
}

// Table is a destination table; Schema is the dataset
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Batch is a column-ordered set of rows. Values are Go natives matching the
// column type (string, int64, float64, bool, time.Time) or nil.
type Batch struct {
	Columns []Column
	Rows    [][]any
}

// Len returns the number of rows
func (b Batch) Len() int { return len(b.Rows) }

// ColumnNames returns the column names in order
func (b Batch) ColumnNames() []string {
	names := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		names[i] = c.Name
	}
	return names
}

func (b Batch) index(name string) int {
	for i, c := range b.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// validate checks the batch shape and that keys are columns of the batch
func (b Batch) validate(table string, keys []string, mode Mode) error {
	if len(b.Columns) == 0 {
		return &contracts.SchemaError{Table: table, Reason: "batch has no columns"}
	}

	seen := make(map[string]bool, len(b.Columns))
	for _, c := range b.Columns {
		if c.Name == "" || seen[c.Name] {
			return &contracts.SchemaError{Table: table, Columns: []string{c.Name}, Reason: "empty or duplicate column"}
		}
		seen[c.Name] = true
	}

	if mode == ModeMerge && len(keys) == 0 {
		return &contracts.ConfigError{Field: "keys", Reason: "merge mode requires key columns"}
	}
	var missing []string
	for _, k := range keys {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &contracts.SchemaError{Table: table, Columns: missing, Reason: "key columns not in batch"}
	}

	for i, r := range b.Rows {
		if len(r) != len(b.Columns) {
			return &contracts.SchemaError{
				Table:  table,
				Reason: fmt.Sprintf("row %d has %d values, want %d", i, len(r), len(b.Columns)),
			}
		}
	}
	return nil
}

// dedupe keeps the last row per key, preserving first-seen key order
func (b Batch) dedupe(keys []string) Batch {
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = b.index(k)
	}

	pos := make(map[string]int, len(b.Rows))
	out := make([][]any, 0, len(b.Rows))
	for _, r := range b.Rows {
		k := rowKey(r, idx)
		if p, ok := pos[k]; ok {
			out[p] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return Batch{Columns: b.Columns, Rows: out}
}

func rowKey(r []any, idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		switch v := r[i].(type) {
		case time.Time:
			sb.WriteString(v.UTC().Format(time.RFC3339Nano))
		case nil:
			sb.WriteString("\x00nil")
		default:
			fmt.Fprintf(&sb, "%v", v)
		}
		sb.WriteByte('\x1f')
	}
	return sb.String()
}

// sameColumns compares column sets by name and type, ignoring order
func sameColumns(a, b []Column) (bool, []string) {
	want := make(map[string]ColType, len(a))
	for _, c := range a {
		want[c.Name] = c.Type
	}
	have := make(map[string]ColType, len(b))
	for _, c := range b {
		have[c.Name] = c.Type
	}

	var diff []string
	for _, c := range a {
		if t, ok := have[c.Name]; !ok || t != c.Type {
			diff = append(diff, c.Name)
		}
	}
	for _, c := range b {
		if _, ok := want[c.Name]; !ok {
			diff = append(diff, c.Name)
		}
	}
	return len(diff) == 0, diff
}
