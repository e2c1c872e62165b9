package db

import (
	"database/sql"
	"fmt"

	"github.com/sublite/sublite/query"
)

// scanRows drains rows into normalized maps. Driver values ([]byte, every
// integer width, time.Time) collapse into the canonical scalar set so rows
// coming off disk compare cleanly against condition trees.
func scanRows(rows *sql.Rows) ([]query.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading column names: %w", err)
	}

	out := []query.Row{}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(query.Row, len(columns))
		for i, column := range columns {
			normalized, err := query.NormalizeValue(values[i])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", column, err)
			}
			row[column] = normalized
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
