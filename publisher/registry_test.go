package publisher

import (
	"sync"
	"testing"
	"time"

	"github.com/sublite/sublite/cfg"
	"github.com/sublite/sublite/change"
)

func TestRegistryUnknownSinkType(t *testing.T) {
	_, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "x", Type: "does-not-exist"},
	})
	if err == nil {
		t.Fatal("expected error for unknown sink type")
	}
}

func TestRegistryInvalidEncodingClosesSink(t *testing.T) {
	var created *mockSink
	RegisterSink("regtest-badenc", func(c cfg.SinkConfiguration) (Sink, error) {
		created = &mockSink{}
		return created, nil
	})

	_, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "x", Type: "regtest-badenc", Encoding: "xml"},
	})
	if err == nil {
		t.Fatal("expected error for unknown encoding")
	}
	if created == nil {
		t.Fatal("factory was never called")
	}
	if !created.closed.Load() {
		t.Error("sink must be closed when worker construction fails")
	}
}

func TestRegistryDispatchesToAllWorkers(t *testing.T) {
	var mu sync.Mutex
	sinks := make(map[string]*mockSink)
	RegisterSink("regtest-fanout", func(c cfg.SinkConfiguration) (Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &mockSink{}
		sinks[c.Name] = s
		return s, nil
	})

	registry, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "a", Type: "regtest-fanout", TopicPrefix: "alpha"},
		{Name: "b", Type: "regtest-fanout", TopicPrefix: "beta"},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	tap := make(chan change.Notification, 4)
	if err := registry.Start(tap); err != nil {
		t.Fatalf("failed to start registry: %v", err)
	}
	defer registry.Stop()

	tap <- &change.Deleted{TableName: "todos", ID: int64(1)}

	waitForEvents(t, sinks["a"], 1, 2*time.Second)
	waitForEvents(t, sinks["b"], 1, 2*time.Second)

	if got := sinks["a"].getEvents()[0].topic; got != "alpha.todos" {
		t.Errorf("expected topic 'alpha.todos', got '%s'", got)
	}
	if got := sinks["b"].getEvents()[0].topic; got != "beta.todos" {
		t.Errorf("expected topic 'beta.todos', got '%s'", got)
	}
}

func TestRegistryAppliesPerSinkFilters(t *testing.T) {
	var mu sync.Mutex
	sinks := make(map[string]*mockSink)
	RegisterSink("regtest-filter", func(c cfg.SinkConfiguration) (Sink, error) {
		mu.Lock()
		defer mu.Unlock()
		s := &mockSink{}
		sinks[c.Name] = s
		return s, nil
	})

	registry, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "narrow", Type: "regtest-filter", Tables: []string{"todos"}},
		{Name: "wide", Type: "regtest-filter"},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	tap := make(chan change.Notification, 4)
	if err := registry.Start(tap); err != nil {
		t.Fatalf("failed to start registry: %v", err)
	}
	defer registry.Stop()

	tap <- &change.Deleted{TableName: "users", ID: int64(1)}
	tap <- &change.Deleted{TableName: "todos", ID: int64(2)}

	waitForEvents(t, sinks["wide"], 2, 2*time.Second)
	waitForEvents(t, sinks["narrow"], 1, 2*time.Second)

	narrow := sinks["narrow"].getEvents()
	if len(narrow) != 1 {
		t.Fatalf("expected 1 event on the narrow sink, got %d", len(narrow))
	}
	if narrow[0].topic != "todos" {
		t.Errorf("expected topic 'todos', got '%s'", narrow[0].topic)
	}
}

func TestRegistryStartStopLifecycle(t *testing.T) {
	RegisterSink("regtest-lifecycle", func(c cfg.SinkConfiguration) (Sink, error) {
		return &mockSink{}, nil
	})

	registry, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "x", Type: "regtest-lifecycle"},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	// Stop before Start is a no-op.
	registry.Stop()

	tap := make(chan change.Notification)
	if err := registry.Start(tap); err != nil {
		t.Fatalf("failed to start registry: %v", err)
	}
	if err := registry.Start(tap); err == nil {
		t.Error("expected error starting a running registry")
	}

	done := make(chan struct{})
	go func() {
		registry.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry did not stop within timeout")
	}

	registry.Stop()
}

func TestRegistryStopsWhenTapCloses(t *testing.T) {
	RegisterSink("regtest-tapclose", func(c cfg.SinkConfiguration) (Sink, error) {
		return &mockSink{}, nil
	})

	registry, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "x", Type: "regtest-tapclose"},
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	tap := make(chan change.Notification)
	if err := registry.Start(tap); err != nil {
		t.Fatalf("failed to start registry: %v", err)
	}

	// The dispatcher exits on its own when the tap closes; Stop must still
	// return promptly afterwards.
	close(tap)

	done := make(chan struct{})
	go func() {
		registry.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("registry did not stop after tap closed")
	}
}
