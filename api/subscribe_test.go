package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/engine"
	"github.com/sublite/sublite/query"
)

type sseEvent struct {
	name string
	data []byte
}

// streamEvents parses SSE frames off the response body. Heartbeat comments
// are skipped. The channel closes when the stream ends.
func streamEvents(body io.Reader) <-chan sseEvent {
	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = []byte(strings.TrimPrefix(line, "data: "))
			case line == "" && ev.name != "":
				events <- ev
				ev = sseEvent{}
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream ended before the expected event")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return sseEvent{}
	}
}

func expectStreamEnd(t *testing.T, events <-chan sseEvent) {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.False(t, ok, "unexpected event %q after teardown", ev.name)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}

func subscribeURL(ts string, queryDoc, id string) string {
	params := url.Values{}
	params.Set("query", queryDoc)
	params.Set("subscriber_id", id)
	return ts + "/v1/subscribe?" + params.Encode()
}

func TestSubscribeStreamsInitAndChanges(t *testing.T) {
	ts, e := newTestServer(t, engine.Options{})

	seed := &change.Create{TableName: "todos", Data: query.Row{"title": "seed", "done": false, "priority": int64(1)}}
	_, err := e.Execute(context.Background(), seed)
	require.NoError(t, err)

	resp, err := http.Get(subscribeURL(ts.URL, `{"return":"many","table":"todos"}`, "s1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := streamEvents(resp.Body)

	init := nextEvent(t, events)
	require.Equal(t, "init", init.name)
	var result query.Result
	require.NoError(t, json.Unmarshal(init.data, &result))
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "seed", result.Rows[0]["title"])

	_, err = e.Execute(context.Background(), &change.Create{
		TableName: "todos",
		Data:      query.Row{"title": "later", "done": false, "priority": int64(2)},
	})
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.Equal(t, "change", ev.name)
	n, err := change.ParseNotification(ev.data)
	require.NoError(t, err)
	created, ok := n.(*change.Created)
	require.True(t, ok, "expected a create notification, got %T", n)
	assert.Equal(t, "later", created.Data["title"])

	// Teardown through the DELETE endpoint ends the stream.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/subscriptions/todos/s1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	expectStreamEnd(t, events)
}

func TestSubscribeFiltersByCondition(t *testing.T) {
	ts, e := newTestServer(t, engine.Options{})

	doc := `{"return":"many","table":"todos","condition":{"type":"single","constraint":{"column":"done","operator":"=","value":false}}}`
	resp, err := http.Get(subscribeURL(ts.URL, doc, "s1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := streamEvents(resp.Body)
	require.Equal(t, "init", nextEvent(t, events).name)

	// A non-matching insert produces nothing; the next frame must be the
	// matching one.
	_, err = e.Execute(context.Background(), &change.Create{
		TableName: "todos",
		Data:      query.Row{"title": "already done", "done": true, "priority": int64(0)},
	})
	require.NoError(t, err)
	created, err := e.Execute(context.Background(), &change.Create{
		TableName: "todos",
		Data:      query.Row{"title": "pending", "done": false, "priority": int64(0)},
	})
	require.NoError(t, err)
	id := created.(*change.Created).Data["id"]

	ev := nextEvent(t, events)
	require.Equal(t, "change", ev.name)
	n, err := change.ParseNotification(ev.data)
	require.NoError(t, err)
	require.IsType(t, &change.Created{}, n)
	assert.Equal(t, "pending", n.(*change.Created).Data["title"])

	// Updating the row out of the condition synthesizes a delete frame.
	_, err = e.Execute(context.Background(), &change.Update{
		TableName: "todos",
		ID:        id,
		Data:      query.Row{"done": true},
	})
	require.NoError(t, err)

	ev = nextEvent(t, events)
	require.Equal(t, "change", ev.name)
	n, err = change.ParseNotification(ev.data)
	require.NoError(t, err)
	require.IsType(t, &change.Deleted{}, n)
}

func TestSubscribeRejectsDuplicateID(t *testing.T) {
	ts, _ := newTestServer(t, engine.Options{})

	doc := `{"return":"many","table":"todos"}`
	resp, err := http.Get(subscribeURL(ts.URL, doc, "dup"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := streamEvents(resp.Body)
	require.Equal(t, "init", nextEvent(t, events).name)

	second, err := http.Get(subscribeURL(ts.URL, doc, "dup"))
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusBadRequest, second.StatusCode)
}

func TestSubscribeRequiresParams(t *testing.T) {
	ts, _ := newTestServer(t, engine.Options{})

	resp, err := http.Get(ts.URL + "/v1/subscribe?subscriber_id=s1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/subscribe?query=" + url.QueryEscape(`{"return":"many","table":"todos"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
