package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

const (
	// DefaultBuffer is how many undelivered notifications a worker queues
	// before new ones are dropped for its sink.
	DefaultBuffer = 256
	// DefaultRetryInitial is the first retry delay after a failed publish.
	DefaultRetryInitial = 100 * time.Millisecond
	// DefaultRetryMax caps the exponential backoff.
	DefaultRetryMax = 30 * time.Second
	// DefaultRetryMultiplier grows the delay between attempts.
	DefaultRetryMultiplier = 2.0
	// DefaultMaxRetries bounds publish attempts before a notification is
	// abandoned. Egress is best effort; there is no unlimited mode.
	DefaultMaxRetries = 10
)

// WorkerConfig configures one sink worker.
type WorkerConfig struct {
	Name            string        // Sink name (labels logs and metrics)
	Sink            Sink          // Destination
	Filter          Filter        // Table filter
	Encoder         Encoder       // Payload format
	Compressor      Compressor    // Payload compression
	TopicPrefix     string        // Topic prefix (e.g. "sublite.cdc")
	Buffer          int           // Queue capacity
	RetryInitial    time.Duration // Initial retry delay
	RetryMax        time.Duration // Max retry delay
	RetryMultiplier float64       // Backoff multiplier
	MaxRetries      int           // Attempts before abandoning
}

// Worker drains its queue and publishes matching notifications to one sink.
// It owns the sink and closes it on Stop.
type Worker struct {
	config WorkerConfig
	queue  chan change.Notification

	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations
}

// NewWorker validates config and builds a stopped worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Compressor == nil {
		return nil, fmt.Errorf("compressor is required")
	}

	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		queue:  make(chan change.Notification, config.Buffer),
	}, nil
}

// Offer hands a notification to the worker without blocking. A full queue
// drops it for this sink.
func (w *Worker) Offer(n change.Notification) {
	if !w.running.Load() {
		return
	}
	select {
	case w.queue <- n:
	default:
		telemetry.PublishedTotal.With(w.config.Name, "dropped").Inc()
	}
}

// Start starts the worker goroutine.
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Str("format", w.config.Encoder.Name()).
		Str("compression", w.config.Compressor.Name()).
		Msg("Starting sink worker")

	go w.drainLoop()
}

// Stop stops the worker, abandons whatever is still queued and closes the
// sink.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	if err := w.config.Sink.Close(); err != nil {
		log.Warn().Err(err).Str("worker", w.config.Name).Msg("Failed to close sink")
	}
	log.Info().Str("worker", w.config.Name).Msg("Sink worker stopped")
}

func (w *Worker) drainLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case n := <-w.queue:
			w.process(n)
		}
	}
}

func (w *Worker) process(n change.Notification) {
	if !w.config.Filter.Match(n.Table()) {
		return
	}

	payload, err := w.config.Encoder.Encode(n)
	if err != nil {
		log.Error().
			Err(err).
			Str("worker", w.config.Name).
			Str("table", n.Table()).
			Msg("Failed to encode notification")
		telemetry.PublishedTotal.With(w.config.Name, "failed").Inc()
		return
	}
	payload = w.config.Compressor.Compress(payload)

	topic := w.buildTopic(n.Table())
	start := time.Now()
	if err := w.publishWithRetry(topic, notificationKey(n), payload); err != nil {
		log.Error().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Msg("Abandoning notification")
		telemetry.PublishedTotal.With(w.config.Name, "failed").Inc()
		return
	}

	telemetry.PublishedTotal.With(w.config.Name, "success").Inc()
	telemetry.PublishDurationSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
}

// buildTopic builds the topic name for a table's notifications.
func (w *Worker) buildTopic(table string) string {
	if w.config.TopicPrefix == "" {
		return table
	}
	return fmt.Sprintf("%s.%s", w.config.TopicPrefix, table)
}

// notificationKey picks the partition key: the row id when the notification
// carries one, the table name otherwise, so one row's events keep their
// relative order on partitioned sinks.
func notificationKey(n change.Notification) string {
	switch v := n.(type) {
	case *change.Created:
		if id, ok := v.Data[query.PrimaryKeyColumn]; ok {
			return fmt.Sprintf("%s/%v", v.TableName, id)
		}
		return v.TableName
	case *change.Updated:
		return fmt.Sprintf("%s/%v", v.TableName, v.ID)
	case *change.Deleted:
		return fmt.Sprintf("%s/%v", v.TableName, v.ID)
	default:
		return n.Table()
	}
}

// publishWithRetry publishes with exponential backoff, bounded by
// MaxRetries. Returns early when the worker stops.
func (w *Worker) publishWithRetry(topic, key string, payload []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, payload)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d attempts for topic %s: %w", attempts, topic, err)
		}

		telemetry.PublishRetriesTotal.Inc()
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep waits for d, returning false if the worker stopped first.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
