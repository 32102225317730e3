package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/encoding"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/telemetry"
)

const (
	// Default number of events buffered per sink before new ones are dropped
	DefaultQueueSize = 256
	// Default topic when a sink does not name one
	DefaultTopic = "vigia.events"
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of retry attempts before giving up on an event
	DefaultMaxRetries = 10
)

// WorkerConfig configures a sink worker
type WorkerConfig struct {
	Name            string         // Sink name
	Type            string         // Sink type, for reporting
	Sink            Sink           // Destination sink
	Codec           encoding.Codec // Frame encoding
	Filter          Filter         // Event filter
	Topic           string         // Topic or subject published to
	QueueSize       int            // Buffered events
	RetryInitial    time.Duration  // Initial retry delay
	RetryMax        time.Duration  // Max retry delay
	RetryMultiplier float64        // Backoff multiplier
	MaxRetries      int            // Maximum attempts per event
}

// Worker drains a bounded queue of events and publishes them to one sink.
// Delivery is at-most-once: an event that exhausts its retries, or that
// arrives while the queue is full, is dropped and counted.
type Worker struct {
	config      WorkerConfig
	queue       chan notify.Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a new sink worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("codec is required")
	}

	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
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
		queue:  make(chan notify.Event, config.QueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start starts the worker goroutine
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
		Str("sink", w.config.Name).
		Str("topic", w.config.Topic).
		Msg("Starting sink worker")

	go w.publishLoop()
}

// Stop stops the worker gracefully; queued events are discarded
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("sink", w.config.Name).Msg("Sink worker stopped")
}

// Enqueue hands an event to the worker without blocking.
// It returns false if the event was filtered out or dropped.
func (w *Worker) Enqueue(e notify.Event) bool {
	if w.config.Filter != nil && !w.config.Filter.Accepts(e) {
		return false
	}

	select {
	case w.queue <- e:
		return true
	default:
		w.dropped.Add(1)
		telemetry.SinkDroppedTotal.With(w.config.Name).Inc()
		log.Warn().
			Str("sink", w.config.Name).
			Str("target", e.Target).
			Msg("Sink queue full, dropping event")
		return false
	}
}

// Status returns the worker counters
func (w *Worker) Status() SinkStatus {
	return SinkStatus{
		Name:      w.config.Name,
		Type:      w.config.Type,
		Format:    w.config.Codec.Name(),
		Topic:     w.config.Topic,
		Queued:    len(w.queue),
		Published: w.published.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}

func (w *Worker) publishLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case e := <-w.queue:
			if err := w.process(e); err != nil {
				w.failed.Add(1)
				telemetry.SinkPublishTotal.With(w.config.Name, "failed").Inc()
				log.Error().
					Err(err).
					Str("sink", w.config.Name).
					Str("target", e.Target).
					Msg("Failed to publish event")
				continue
			}
			w.published.Add(1)
			telemetry.SinkPublishTotal.With(w.config.Name, "success").Inc()
		}
	}
}

func (w *Worker) process(e notify.Event) error {
	data, err := w.config.Codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return w.publishWithRetry(w.config.Topic, e.Target, data)
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		telemetry.SinkPublishTotal.With(w.config.Name, "retry").Inc()
		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
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
