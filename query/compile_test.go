package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSelect(t *testing.T) {
	t.Run("bare table", func(t *testing.T) {
		sql, args, err := CompileSelect(DialectSQLite, &Query{Return: ReturnMany, Table: "todos"})
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM `todos`", sql)
		assert.Empty(t, args)
	})

	t.Run("argument order follows tree traversal", func(t *testing.T) {
		q := &Query{
			Return: ReturnMany,
			Table:  "todos",
			Condition: NewOr(
				NewAnd(
					NewSingle("done", OpEqual, false),
					NewSingle("priority", OpGreaterThan, int64(3)),
				),
				NewSingle("owner", OpEqual, "alice"),
			),
		}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "`done` = ?")
		assert.Contains(t, sql, "`priority` > ?")
		assert.Contains(t, sql, "`owner` = ?")
		assert.Equal(t, []any{false, int64(3), "alice"}, args)
	})

	t.Run("null equality renders as IS NULL", func(t *testing.T) {
		q := &Query{Return: ReturnMany, Table: "todos", Condition: NewSingle("owner", OpEqual, nil)}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "`owner` IS NULL")
		assert.Empty(t, args)

		q.Condition = NewSingle("owner", OpNotEqual, nil)
		sql, _, err = CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "`owner` IS NOT NULL")
	})

	t.Run("in list", func(t *testing.T) {
		q := &Query{
			Return:    ReturnMany,
			Table:     "todos",
			Condition: NewSingle("id", OpIn, []any{int64(1), int64(2), int64(3)}),
		}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "`id` IN (?, ?, ?)")
		assert.Equal(t, []any{int64(1), int64(2), int64(3)}, args)
	})

	t.Run("empty in matches nothing", func(t *testing.T) {
		q := &Query{Return: ReturnMany, Table: "todos", Condition: NewSingle("id", OpIn, []any{})}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "1 = 0")
		assert.Empty(t, args)
	})

	t.Run("empty composites keep evaluator semantics", func(t *testing.T) {
		q := &Query{Return: ReturnMany, Table: "todos", Condition: NewAnd()}
		sql, _, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "1 = 1")

		q.Condition = NewOr()
		sql, _, err = CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "1 = 0")

		q.Condition = NewAnd(NewOr(), NewSingle("done", OpEqual, true))
		sql, _, err = CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "1 = 0")
	})

	t.Run("ilike folds both sides", func(t *testing.T) {
		q := &Query{Return: ReturnMany, Table: "todos", Condition: NewSingle("title", OpILike, "%urgent%")}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "LOWER(`title`) LIKE LOWER(?)")
		assert.Equal(t, []any{"%urgent%"}, args)
	})

	t.Run("mysql like is case sensitive", func(t *testing.T) {
		q := &Query{Return: ReturnMany, Table: "todos", Condition: NewSingle("title", OpLike, "Buy%")}
		sql, _, err := CompileSelect(DialectMySQL, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "LIKE BINARY")
	})

	t.Run("pagination defaults to primary key descending", func(t *testing.T) {
		q := &Query{
			Return:   ReturnMany,
			Table:    "todos",
			Paginate: &Paginate{PerPage: 25},
		}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY `id` DESC")
		assert.Contains(t, sql, "LIMIT ?")
		assert.NotContains(t, sql, "OFFSET")
		assert.Equal(t, []any{uint(25)}, args)
	})

	t.Run("explicit ordering and offset", func(t *testing.T) {
		q := &Query{
			Return:   ReturnMany,
			Table:    "todos",
			Paginate: &Paginate{OrderBy: "created_at", Direction: Ascending, PerPage: 10, Offset: 30},
		}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY `created_at` ASC")
		assert.Contains(t, sql, "LIMIT ?")
		assert.Contains(t, sql, "OFFSET ?")
		assert.Equal(t, []any{uint(10), uint(30)}, args)
	})

	t.Run("single return caps at one row", func(t *testing.T) {
		q := &Query{Return: ReturnSingle, Table: "todos"}
		sql, args, err := CompileSelect(DialectSQLite, q)
		require.NoError(t, err)
		assert.Contains(t, sql, "LIMIT ?")
		assert.Equal(t, []any{uint(1)}, args)
	})

	t.Run("rejects invalid queries", func(t *testing.T) {
		var verr *ValidationError

		_, _, err := CompileSelect(DialectSQLite, &Query{Return: ReturnMany, Table: "todos; drop"})
		assert.ErrorAs(t, err, &verr)

		_, _, err = CompileSelect(DialectSQLite, &Query{Return: "all", Table: "todos"})
		assert.ErrorAs(t, err, &verr)

		_, _, err = CompileSelect("postgres", &Query{Return: ReturnMany, Table: "todos"})
		assert.ErrorAs(t, err, &verr)

		_, _, err = CompileSelect(DialectSQLite, &Query{
			Return:   ReturnMany,
			Table:    "todos",
			Paginate: &Paginate{PerPage: 0},
		})
		assert.ErrorAs(t, err, &verr)
	})
}
