package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
)

// The SQL a condition compiles to and the in-memory evaluator must select
// exactly the same rows, otherwise live matching drifts away from initial
// fetches. Every operator is pinned here against a real database.
func TestSQLAndEvaluatorAgree(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()

	seed := []query.Row{
		{"title": "Buy milk", "done": false, "priority": int64(1), "owner": "alice"},
		{"title": "buy bread", "done": false, "priority": int64(3)},
		{"title": "URGENT: taxes", "done": true, "priority": int64(5), "owner": "bob"},
		{"title": "urgent call", "done": false, "priority": int64(2), "owner": "Alice"},
		{"title": "Chill", "done": true, "priority": int64(0), "owner": ""},
	}
	for _, row := range seed {
		mustApply(t, store, &change.Create{TableName: "todos", Data: row})
	}

	all, err := store.Fetch(ctx, &query.Query{Return: query.ReturnMany, Table: "todos"})
	require.NoError(t, err)
	require.Len(t, all.Rows, len(seed))

	conditions := []query.Condition{
		nil,
		query.NewSingle("title", query.OpLike, "buy%"),
		query.NewSingle("title", query.OpLike, "%urgent%"),
		query.NewSingle("title", query.OpILike, "buy%"),
		query.NewSingle("title", query.OpILike, "%urgent%"),
		query.NewSingle("title", query.OpLike, "C_ill"),
		query.NewSingle("owner", query.OpEqual, nil),
		query.NewSingle("owner", query.OpNotEqual, nil),
		query.NewSingle("owner", query.OpEqual, "alice"),
		query.NewSingle("owner", query.OpNotEqual, "alice"),
		query.NewSingle("owner", query.OpEqual, ""),
		query.NewSingle("priority", query.OpGreaterThan, int64(2)),
		query.NewSingle("priority", query.OpLessThanOrEqual, int64(1)),
		query.NewSingle("priority", query.OpGreaterThanOrEqual, 2.5),
		query.NewSingle("done", query.OpEqual, true),
		query.NewSingle("done", query.OpEqual, int64(1)),
		query.NewSingle("done", query.OpNotEqual, true),
		query.NewSingle("id", query.OpIn, []any{int64(1), int64(3), int64(5)}),
		query.NewSingle("id", query.OpIn, []any{}),
		query.NewAnd(),
		query.NewOr(),
		query.NewAnd(
			query.NewSingle("done", query.OpEqual, false),
			query.NewSingle("priority", query.OpLessThan, int64(3)),
		),
		query.NewOr(
			query.NewSingle("done", query.OpEqual, true),
			query.NewSingle("owner", query.OpEqual, "alice"),
		),
		query.NewOr(
			query.NewAnd(
				query.NewSingle("title", query.OpILike, "%urgent%"),
				query.NewSingle("done", query.OpEqual, false),
			),
			query.NewSingle("priority", query.OpGreaterThanOrEqual, int64(5)),
		),
	}

	for i, condition := range conditions {
		name := fmt.Sprintf("condition_%d", i)
		t.Run(name, func(t *testing.T) {
			fetched, err := store.Fetch(ctx, &query.Query{
				Return:    query.ReturnMany,
				Table:     "todos",
				Condition: condition,
			})
			require.NoError(t, err)

			var evaluated []any
			for _, row := range all.Rows {
				if query.Matches(condition, row) {
					evaluated = append(evaluated, row["id"])
				}
			}

			var sqlSide []any
			for _, row := range fetched.Rows {
				sqlSide = append(sqlSide, row["id"])
			}

			assert.ElementsMatch(t, evaluated, sqlSide)
		})
	}
}
