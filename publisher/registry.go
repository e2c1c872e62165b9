package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/cfg"
	"github.com/sublite/sublite/change"
)

// SinkFactory builds a Sink from its configuration. Sink implementations
// register themselves under a type name from their init.
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

// Registry owns one worker per configured sink plus the dispatcher feeding
// them from the engine's notification tap.
type Registry struct {
	workers []*Worker

	stopCh  chan struct{}
	doneCh  chan struct{}
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry builds a worker for each sink configuration.
func NewRegistry(sinks []cfg.SinkConfiguration) (*Registry, error) {
	registry := &Registry{workers: make([]*Worker, 0, len(sinks))}

	for _, sinkCfg := range sinks {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().Int("workers", len(registry.workers)).Msg("Publisher registry initialized")
	return registry, nil
}

// AddSink creates and adds a worker for the given sink configuration.
// Workers added after Start receive traffic on the next Start.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	encoder, err := newEncoder(config.Encoding)
	if err != nil {
		snk.Close()
		return err
	}

	compressor, err := newCompressor(config.Compression)
	if err != nil {
		snk.Close()
		return err
	}

	filter, err := NewGlobFilter(config.Tables)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:         config.Name,
		Sink:         snk,
		Filter:       filter,
		Encoder:      encoder,
		Compressor:   compressor,
		TopicPrefix:  config.TopicPrefix,
		RetryInitial: time.Duration(config.BackoffMS) * time.Millisecond,
		MaxRetries:   config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", encoder.Name()).
		Str("compression", compressor.Name()).
		Msg("Added sink")

	return nil
}

// Start starts every worker and begins draining tap.
func (r *Registry) Start(tap <-chan change.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.dispatchLoop(tap, r.workers)

	r.running.Store(true)
	return nil
}

// Stop exits the dispatcher, then stops every worker. Queued notifications
// that have not been published yet are abandoned.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping publisher registry")

	close(r.stopCh)
	<-r.doneCh

	for _, worker := range r.workers {
		worker.Stop()
	}

	log.Info().Msg("Publisher registry stopped")
}

func (r *Registry) dispatchLoop(tap <-chan change.Notification, workers []*Worker) {
	defer close(r.doneCh)

	for {
		select {
		case <-r.stopCh:
			return
		case n, ok := <-tap:
			if !ok {
				return
			}
			for _, worker := range workers {
				worker.Offer(n)
			}
		}
	}
}
