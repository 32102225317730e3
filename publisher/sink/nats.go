package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/encoding"
	"github.com/tqwops/vigia/publisher"
)

func init() {
	publisher.RegisterSink(cfg.SinkNATS, func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		codec, err := encoding.ForFormat(config.Format)
		if err != nil {
			return nil, err
		}
		return NewNatsSink(config.NatsURL, frameHeaders(codec))
	})
}

// frameHeaders are attached to every message a sink publishes
func frameHeaders(codec encoding.Codec) map[string]string {
	return map[string]string{
		publisher.HeaderContentType: codec.ContentType(),
		publisher.HeaderOrigin:      cfg.Config.InstanceID,
	}
}

// NatsSink implements the Sink interface for NATS JetStream publishing
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	headers map[string]string

	mu      sync.Mutex
	streams map[string]bool // Streams already ensured
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(url string, headers map[string]string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, headers: headers, streams: make(map[string]bool)}, nil
}

// Publish sends a message to NATS JetStream
// topic: JetStream subject (e.g., "vigia.events")
// key: Message key (event target, stored as header)
// value: Encoded event
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	_, err := n.js.PublishMsg(ctx, buildMsg(topic, key, value, n.headers))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.streams[topic] {
		return nil
	}

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams[topic] = true
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

func buildMsg(topic, key string, value []byte, headers map[string]string) *nats.Msg {
	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{},
	}
	msg.Header.Set(publisher.HeaderKey, key)
	for k, v := range headers {
		if v != "" {
			msg.Header.Set(k, v)
		}
	}
	return msg
}

// sanitizeStreamName converts a topic to a valid JetStream stream name
// JetStream stream names can't contain "." so we replace with "_"
func sanitizeStreamName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(topic)
}
