package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// FetchBuckets for local read queries
	FetchBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// WriteBuckets for mutation operations (includes batch wait)
	WriteBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

	// PublishBuckets for external sink round trips
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// BatchSizeBuckets for operations per group-commit flush
	BatchSizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250}
)

// Query and Mutation Metrics
var (
	// FetchesTotal counts fetch queries by result (success, failed)
	FetchesTotal CounterVec = noopCounterVec{}

	// FetchDurationSeconds measures fetch latency
	FetchDurationSeconds Histogram = NoopStat{}

	// OperationsTotal counts mutations by type (create, create_many, update, delete) and result (success, failed, noop)
	OperationsTotal CounterVec = noopCounterVec{}

	// OperationDurationSeconds measures mutation latency by type
	OperationDurationSeconds HistogramVec = noopHistogramVec{}

	// RawStatementsTotal counts raw SQL statements by class (read, write) and result
	RawStatementsTotal CounterVec = noopCounterVec{}

	// BatchedWritesPerFlush measures operations committed per group-commit flush
	BatchedWritesPerFlush Histogram = NoopStat{}
)

// Subscription Metrics
var (
	// ActiveSubscriptions tracks registered subscriptions per table
	ActiveSubscriptions GaugeVec = noopGaugeVec{}

	// DeliveriesTotal counts notifications delivered to subscribers by type
	DeliveriesTotal CounterVec = noopCounterVec{}

	// SynthesizedDeletesTotal counts updates delivered as deletes to subscribers the row left
	SynthesizedDeletesTotal Counter = NoopStat{}

	// DeliveryFailuresTotal counts sends to dead channels (subscription pruned)
	DeliveryFailuresTotal Counter = NoopStat{}

	// SSEClients tracks connected streaming clients
	SSEClients Gauge = NoopStat{}
)

// Publisher Metrics
var (
	// PublishedTotal counts notifications published by sink and result
	PublishedTotal CounterVec = noopCounterVec{}

	// PublishRetriesTotal counts publish retry attempts
	PublishRetriesTotal Counter = NoopStat{}

	// PublishDurationSeconds measures publish latency by sink
	PublishDurationSeconds HistogramVec = noopHistogramVec{}

	// TapDroppedTotal counts notifications dropped because the tap buffer was full
	TapDroppedTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Query and Mutation Metrics
	FetchesTotal = NewCounterVec(
		"fetches_total",
		"Total fetch queries by result",
		[]string{"result"},
	)
	FetchDurationSeconds = NewHistogramWithBuckets(
		"fetch_duration_seconds",
		"Fetch query duration in seconds",
		FetchBuckets,
	)
	OperationsTotal = NewCounterVec(
		"operations_total",
		"Total mutations by type and result",
		[]string{"type", "result"},
	)
	OperationDurationSeconds = NewHistogramVec(
		"operation_duration_seconds",
		"Mutation duration in seconds",
		[]string{"type"},
		WriteBuckets,
	)
	RawStatementsTotal = NewCounterVec(
		"raw_statements_total",
		"Raw SQL statements by class and result",
		[]string{"class", "result"},
	)
	BatchedWritesPerFlush = NewHistogramWithBuckets(
		"batched_writes_per_flush",
		"Operations committed per group-commit flush",
		BatchSizeBuckets,
	)

	// Subscription Metrics
	ActiveSubscriptions = NewGaugeVec(
		"active_subscriptions",
		"Registered subscriptions per table",
		[]string{"table"},
	)
	DeliveriesTotal = NewCounterVec(
		"deliveries_total",
		"Notifications delivered to subscribers by type",
		[]string{"type"},
	)
	SynthesizedDeletesTotal = NewCounter(
		"synthesized_deletes_total",
		"Updates delivered as deletes to subscribers the row no longer matches",
	)
	DeliveryFailuresTotal = NewCounter(
		"delivery_failures_total",
		"Sends to dead subscriber channels",
	)
	SSEClients = NewGauge(
		"sse_clients",
		"Connected streaming clients",
	)

	// Publisher Metrics
	PublishedTotal = NewCounterVec(
		"published_total",
		"Notifications published to external sinks by sink and result",
		[]string{"sink", "result"},
	)
	PublishRetriesTotal = NewCounter(
		"publish_retries_total",
		"Publish retry attempts",
	)
	PublishDurationSeconds = NewHistogramVec(
		"publish_duration_seconds",
		"Publish duration in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	TapDroppedTotal = NewCounter(
		"tap_dropped_total",
		"Notifications dropped because the tap buffer was full",
	)
}
