package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
)

const todosSchema = `
	CREATE TABLE todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		done BOOLEAN NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		owner TEXT
	)`

func openTestStore(t *testing.T, batch bool) *Store {
	t.Helper()

	cfg := Config{
		Dialect: query.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "test.db"),
	}
	if batch {
		cfg.Batch = BatchConfig{Enabled: true, MaxWait: 2 * time.Millisecond}
	}

	store, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.writer.Exec(todosSchema)
	require.NoError(t, err)
	return store
}

func mustApply(t *testing.T, store *Store, op change.Operation) change.Notification {
	t.Helper()
	notification, err := store.Apply(context.Background(), op)
	require.NoError(t, err)
	return notification
}

func TestStoreApplyCreate(t *testing.T) {
	store := openTestStore(t, false)

	notification := mustApply(t, store, &change.Create{
		TableName: "todos",
		Data:      query.Row{"title": "milk", "done": false, "priority": int64(1)},
	})

	created := notification.(*change.Created)
	assert.Equal(t, "todos", created.Table())
	assert.Equal(t, query.Row{
		"id":       int64(1),
		"title":    "milk",
		"done":     false,
		"priority": int64(1),
		"owner":    nil,
	}, created.Data)

	t.Run("explicit primary key", func(t *testing.T) {
		notification := mustApply(t, store, &change.Create{
			TableName: "todos",
			Data:      query.Row{"id": int64(42), "title": "bread"},
		})
		assert.Equal(t, int64(42), notification.(*change.Created).Data["id"])
	})

	t.Run("constraint violations surface as storage errors", func(t *testing.T) {
		_, err := store.Apply(context.Background(), &change.Create{
			TableName: "todos",
			Data:      query.Row{"id": int64(42), "title": "dup"},
		})
		var serr *StorageError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "todos", serr.Table)
	})
}

func TestStoreApplyCreateMany(t *testing.T) {
	store := openTestStore(t, false)

	notification := mustApply(t, store, &change.CreateMany{
		TableName: "todos",
		Data: []query.Row{
			{"title": "one"},
			{"title": "two"},
			{"title": "three"},
		},
	})

	batch := notification.(*change.CreatedMany)
	require.Len(t, batch.Data, 3)
	assert.Equal(t, int64(1), batch.Data[0]["id"])
	assert.Equal(t, int64(3), batch.Data[2]["id"])
	assert.Equal(t, "two", batch.Data[1]["title"])

	t.Run("empty batch changes nothing", func(t *testing.T) {
		notification := mustApply(t, store, &change.CreateMany{TableName: "todos"})
		assert.Nil(t, notification)
	})
}

func TestStoreApplyUpdate(t *testing.T) {
	store := openTestStore(t, false)
	mustApply(t, store, &change.Create{TableName: "todos", Data: query.Row{"title": "milk"}})

	notification := mustApply(t, store, &change.Update{
		TableName: "todos",
		ID:        int64(1),
		Data:      query.Row{"done": true, "priority": int64(9)},
	})

	updated := notification.(*change.Updated)
	assert.Equal(t, int64(1), updated.ID)
	// The notification carries the full row, not just the patched columns.
	assert.Equal(t, "milk", updated.Data["title"])
	assert.Equal(t, true, updated.Data["done"])
	assert.Equal(t, int64(9), updated.Data["priority"])

	t.Run("missing row is silent", func(t *testing.T) {
		notification := mustApply(t, store, &change.Update{
			TableName: "todos",
			ID:        int64(999),
			Data:      query.Row{"done": true},
		})
		assert.Nil(t, notification)
	})
}

func TestStoreApplyDelete(t *testing.T) {
	store := openTestStore(t, false)
	mustApply(t, store, &change.Create{TableName: "todos", Data: query.Row{"title": "milk"}})

	notification := mustApply(t, store, &change.Delete{TableName: "todos", ID: int64(1)})
	deleted := notification.(*change.Deleted)
	assert.Equal(t, int64(1), deleted.ID)

	t.Run("missing row is silent", func(t *testing.T) {
		notification := mustApply(t, store, &change.Delete{TableName: "todos", ID: int64(1)})
		assert.Nil(t, notification)
	})
}

func TestStoreApplyValidates(t *testing.T) {
	store := openTestStore(t, false)

	_, err := store.Apply(context.Background(), &change.Create{TableName: "todos", Data: query.Row{}})
	var verr *query.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStoreFetch(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()

	for _, row := range []query.Row{
		{"title": "one", "priority": int64(1)},
		{"title": "two", "priority": int64(2)},
		{"title": "three", "priority": int64(3), "done": true},
	} {
		mustApply(t, store, &change.Create{TableName: "todos", Data: row})
	}

	t.Run("many with condition", func(t *testing.T) {
		result, err := store.Fetch(ctx, &query.Query{
			Return:    query.ReturnMany,
			Table:     "todos",
			Condition: query.NewSingle("done", query.OpEqual, false),
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, 2)
	})

	t.Run("single", func(t *testing.T) {
		result, err := store.Fetch(ctx, &query.Query{
			Return:    query.ReturnSingle,
			Table:     "todos",
			Condition: query.NewSingle("title", query.OpEqual, "two"),
		})
		require.NoError(t, err)
		require.NotNil(t, result.Row)
		assert.Equal(t, int64(2), result.Row["id"])
	})

	t.Run("single without match", func(t *testing.T) {
		result, err := store.Fetch(ctx, &query.Query{
			Return:    query.ReturnSingle,
			Table:     "todos",
			Condition: query.NewSingle("title", query.OpEqual, "nope"),
		})
		require.NoError(t, err)
		assert.Nil(t, result.Row)
	})

	t.Run("pagination defaults to newest first", func(t *testing.T) {
		result, err := store.Fetch(ctx, &query.Query{
			Return:   query.ReturnMany,
			Table:    "todos",
			Paginate: &query.Paginate{PerPage: 2},
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, 2)
		assert.Equal(t, int64(3), result.Rows[0]["id"])
		assert.Equal(t, int64(2), result.Rows[1]["id"])
	})

	t.Run("explicit order with offset", func(t *testing.T) {
		result, err := store.Fetch(ctx, &query.Query{
			Return:   query.ReturnMany,
			Table:    "todos",
			Paginate: &query.Paginate{OrderBy: "priority", Direction: query.Ascending, PerPage: 2, Offset: 1},
		})
		require.NoError(t, err)
		require.Len(t, result.Rows, 2)
		assert.Equal(t, int64(2), result.Rows[0]["priority"])
	})

	t.Run("unknown table is a storage error", func(t *testing.T) {
		_, err := store.Fetch(ctx, &query.Query{Return: query.ReturnMany, Table: "missing"})
		var serr *StorageError
		assert.ErrorAs(t, err, &serr)
	})

	t.Run("compiled statements are cached", func(t *testing.T) {
		q := &query.Query{Return: query.ReturnMany, Table: "todos"}
		_, err := store.Fetch(ctx, q)
		require.NoError(t, err)
		before := store.compiled.Len()
		_, err = store.Fetch(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, before, store.compiled.Len())
	})
}

func TestStoreRaw(t *testing.T) {
	store := openTestStore(t, false)
	ctx := context.Background()
	mustApply(t, store, &change.Create{TableName: "todos", Data: query.Row{"title": "milk", "priority": int64(5)}})

	t.Run("select", func(t *testing.T) {
		result, err := store.Raw(ctx, "SELECT id, title FROM todos WHERE priority > ?", []any{int64(1)})
		require.NoError(t, err)
		assert.Equal(t, StatementSelect, result.Class)
		require.Len(t, result.Rows, 1)
		assert.Equal(t, "milk", result.Rows[0]["title"])
	})

	t.Run("write", func(t *testing.T) {
		result, err := store.Raw(ctx, "UPDATE todos SET priority = priority + 1", nil)
		require.NoError(t, err)
		assert.Equal(t, StatementWrite, result.Class)
		assert.Equal(t, int64(1), result.RowsAffected)
	})

	t.Run("rejected statements", func(t *testing.T) {
		for _, stmt := range []string{
			"DROP TABLE todos",
			"SELECT 1; SELECT 2",
			"BEGIN",
			"",
			"definitely not sql",
		} {
			_, err := store.Raw(ctx, stmt, nil)
			var verr *query.ValidationError
			assert.ErrorAs(t, err, &verr, "statement %q", stmt)
		}
	})
}
