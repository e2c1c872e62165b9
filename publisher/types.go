package publisher

import "github.com/sublite/sublite/change"

// Sink is a destination for published notifications (NATS, Kafka).
type Sink interface {
	// Publish sends one payload. key is the partition/routing key and may
	// be used by the sink for ordering; value is the encoded notification.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// Filter decides whether a table's notifications reach a sink.
type Filter interface {
	Match(table string) bool
}

// Encoder turns a notification into a sink payload.
type Encoder interface {
	Encode(change.Notification) ([]byte, error)
	// Name reports the wire format, for logging.
	Name() string
}

// Compressor optionally shrinks encoded payloads before publishing.
type Compressor interface {
	Compress([]byte) []byte
	Name() string
}
