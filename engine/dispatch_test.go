package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
)

func TestRouteCreated(t *testing.T) {
	created := &change.Created{TableName: "todos", Data: query.Row{"done": false}}

	out, synthesized := route(query.NewSingle("done", query.OpEqual, false), created)
	assert.Same(t, created, out)
	assert.False(t, synthesized)

	out, _ = route(query.NewSingle("done", query.OpEqual, true), created)
	assert.Nil(t, out)

	// A nil condition matches everything.
	out, _ = route(nil, created)
	assert.Same(t, created, out)
}

func TestRouteCreatedManyFilters(t *testing.T) {
	batch := &change.CreatedMany{TableName: "todos", Data: []query.Row{
		{"priority": int64(2)},
		{"priority": int64(8)},
	}}

	out, synthesized := route(query.NewSingle("priority", query.OpGreaterThan, int64(5)), batch)
	require.NotNil(t, out)
	assert.False(t, synthesized)

	personalized := out.(*change.CreatedMany)
	assert.NotSame(t, batch, personalized)
	assert.Equal(t, "todos", personalized.TableName)
	require.Len(t, personalized.Data, 1)
	assert.Equal(t, int64(8), personalized.Data[0]["priority"])

	out, _ = route(query.NewSingle("priority", query.OpGreaterThan, int64(10)), batch)
	assert.Nil(t, out)

	// Without a condition the shared batch goes out as-is.
	out, _ = route(nil, batch)
	assert.Same(t, batch, out)
}

func TestRouteUpdatedSynthesizesDelete(t *testing.T) {
	updated := &change.Updated{TableName: "todos", ID: int64(7), Data: query.Row{"done": true}}

	out, synthesized := route(query.NewSingle("done", query.OpEqual, true), updated)
	assert.Same(t, updated, out)
	assert.False(t, synthesized)

	out, synthesized = route(query.NewSingle("done", query.OpEqual, false), updated)
	require.NotNil(t, out)
	assert.True(t, synthesized)

	deleted := out.(*change.Deleted)
	assert.Equal(t, "todos", deleted.TableName)
	assert.Equal(t, int64(7), deleted.ID)
}

func TestRouteDeletedUnconditional(t *testing.T) {
	deleted := &change.Deleted{TableName: "todos", ID: int64(7)}

	out, synthesized := route(query.NewSingle("done", query.OpEqual, false), deleted)
	assert.Same(t, deleted, out)
	assert.False(t, synthesized)
}
