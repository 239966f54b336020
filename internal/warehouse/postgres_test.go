package warehouse

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestPgIdent(t *testing.T) {
	tests := []struct {
		name  string
		table Table
		want  string
	}{
		{"dataset schema", Table{Schema: "aegis_top20", Name: "fact_price"}, `"aegis_top20"."fact_price"`},
		{"no schema falls back to public", Table{Name: "fact_price"}, `"public"."fact_price"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pgIdent(tt.table))
		})
	}

	assert.Equal(t, pgx.Identifier{"public", "dim_universe"}, pgIdentifier(Table{Name: "dim_universe"}))
}

func TestPgCreateSQL(t *testing.T) {
	cols := []Column{{Name: "code", Type: TypeText}, {Name: "date", Type: TypeDate}, {Name: "close", Type: TypeFloat}}

	got := pgCreateSQL(Table{Name: "fact_price"}, cols, []string{"code", "date"}, false)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "public"."fact_price" ("code" TEXT, "date" DATE, "close" DOUBLE PRECISION, PRIMARY KEY ("code", "date"))`,
		got)

	staging := pgCreateSQL(Table{Schema: "aegis_top20", Name: "fact_price_stg"}, cols, nil, true)
	assert.Contains(t, staging, `CREATE UNLOGGED TABLE IF NOT EXISTS "aegis_top20"."fact_price_stg"`)
	assert.NotContains(t, staging, "PRIMARY KEY")
}
