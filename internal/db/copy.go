package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Table is a schema-qualified table and the columns bulk loads fill.
type Table struct {
	Schema  string
	Name    string
	Columns []string
}

func (t Table) String() string { return t.Schema + "." + t.Name }

// Copy streams rows into t over the COPY protocol. Every row must hold one
// value per column.
func (t Table) Copy(ctx context.Context, q Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(t.Columns) {
			return 0, eris.Errorf("db: %s row %d has %d values for %d columns", t, i, len(row), len(t.Columns))
		}
	}
	n, err := q.CopyFrom(ctx, pgx.Identifier{t.Schema, t.Name}, t.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", t)
	}
	return n, nil
}
