package publisher

import "github.com/tqwops/vigia/notify"

// Frame headers attached to every published message
const (
	HeaderKey         = "key"
	HeaderContentType = "Content-Type"
	HeaderOrigin      = "Vigia-Origin"
)

// Sink represents a destination for mirrored events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends an encoded event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Filter determines whether an event should be mirrored to a sink
type Filter interface {
	// Accepts returns true if the event should be published
	Accepts(e notify.Event) bool
}

// SinkStatus reports a sink worker's counters for the admin API
type SinkStatus struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Format    string `json:"format"`
	Topic     string `json:"topic"`
	Queued    int    `json:"queued"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}
