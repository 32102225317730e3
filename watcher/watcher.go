package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/db"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/telemetry"
)

const (
	// DefaultInterval between the end of one poll and the start of the next
	DefaultInterval = 10 * time.Second
	// DefaultQueryTimeout bounds a single freshness query
	DefaultQueryTimeout = 5 * time.Second
)

var (
	// ErrTickInFlight is returned by PollNow when a poll is already running
	ErrTickInFlight = errors.New("poll already in flight")
	// ErrNotRunning is returned for a poll requested or completed while the watcher is stopped
	ErrNotRunning = errors.New("watcher is not running")
)

// Config configures a Watcher
type Config struct {
	Name         string             // Identifies the watcher in logs, metrics and the admin API
	Target       string             // Resource key sent in refresh events
	Source       db.MarkerSource    // Where the freshness marker is read from
	Broadcaster  notify.Broadcaster // Receives a refresh event on every change
	Interval     time.Duration      // Delay between polls
	QueryTimeout time.Duration      // Per-poll query deadline
}

// Status is a point-in-time view of a watcher
type Status struct {
	Name       string    `json:"name"`
	Target     string    `json:"target"`
	Running    bool      `json:"running"`
	Armed      bool      `json:"armed"`
	Marker     db.Marker `json:"marker"`
	Interval   string    `json:"interval"`
	Polls      uint64    `json:"polls"`
	Failures   uint64    `json:"failures"`
	Changes    uint64    `json:"changes"`
	LastPoll   time.Time `json:"last_poll,omitzero"`
	LastChange time.Time `json:"last_change,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// Watcher polls a freshness marker on a fixed interval and broadcasts a refresh
// event when it changes. The next poll is scheduled only after the previous one
// completes, so polls never overlap.
type Watcher struct {
	config Config

	lifecycleMu sync.Mutex // Protects Start/Stop and the fields below
	running     atomic.Bool
	runCtx      context.Context
	cancel      context.CancelFunc
	doneCh      chan struct{}

	tickMu sync.Mutex // Held for the duration of a poll

	mu         sync.Mutex // Protects detector and poll bookkeeping
	detector   Detector
	lastPoll   time.Time
	lastChange time.Time
	lastErr    error

	polls    atomic.Uint64
	failures atomic.Uint64
	changes  atomic.Uint64
}

// New creates a watcher; it does not start polling
func New(config Config) (*Watcher, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("watcher name is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("marker source is required")
	}
	if config.Broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if config.Target == "" {
		config.Target = config.Name
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultQueryTimeout
	}

	return &Watcher{config: config}, nil
}

// Name returns the watcher name
func (w *Watcher) Name() string {
	return w.config.Name
}

// Start begins polling. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.runCtx, w.cancel = context.WithCancel(context.Background())
	w.doneCh = make(chan struct{})
	w.running.Store(true)

	log.Info().
		Str("watcher", w.config.Name).
		Str("target", w.config.Target).
		Dur("interval", w.config.Interval).
		Msg("Starting watcher")

	go w.loop(w.runCtx, w.doneCh)
}

// Stop halts polling and waits for the loop to exit. A poll in flight is
// canceled and its result discarded. Stop is idempotent.
func (w *Watcher) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	w.running.Store(false)
	w.cancel()
	<-w.doneCh

	log.Info().Str("watcher", w.config.Name).Msg("Watcher stopped")
}

// Running reports whether the watcher is polling
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// PollNow runs one poll immediately, outside the schedule. It reports whether
// a change was detected. ErrTickInFlight is returned if a poll is already running.
func (w *Watcher) PollNow(ctx context.Context) (bool, error) {
	w.lifecycleMu.Lock()
	runCtx := w.runCtx
	running := w.running.Load()
	w.lifecycleMu.Unlock()

	if !running {
		return false, ErrNotRunning
	}

	pollCtx, cancel := context.WithCancelCause(runCtx)
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	defer stop()

	return w.tick(runCtx, pollCtx)
}

// Status returns a snapshot of the watcher state
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:       w.config.Name,
		Target:     w.config.Target,
		Running:    w.running.Load(),
		Armed:      w.detector.Armed(),
		Marker:     w.detector.Last(),
		Interval:   w.config.Interval.String(),
		Polls:      w.polls.Load(),
		Failures:   w.failures.Load(),
		Changes:    w.changes.Load(),
		LastPoll:   w.lastPoll,
		LastChange: w.lastChange,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Armed reports whether the watcher has observed its first marker
func (w *Watcher) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.detector.Armed()
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(w.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Errors are logged and counted by tick; the next tick is the retry
			w.tick(ctx, ctx)
			timer.Reset(w.config.Interval)
		}
	}
}

// tick performs one poll and broadcasts on change. Failures never mutate the
// detector, and a result that arrives after Stop is discarded. runCtx ends with
// the watcher; pollCtx additionally ends with the PollNow caller.
func (w *Watcher) tick(runCtx, pollCtx context.Context) (bool, error) {
	if !w.tickMu.TryLock() {
		telemetry.WatcherSkippedTicksTotal.With(w.config.Name).Inc()
		return false, ErrTickInFlight
	}
	defer w.tickMu.Unlock()

	ctx, cancel := context.WithTimeout(pollCtx, w.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	marker, err := w.config.Source.Marker(ctx)
	telemetry.WatcherPollDurationSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())

	if runCtx.Err() != nil {
		telemetry.WatcherPollsTotal.With(w.config.Name, "discarded").Inc()
		log.Debug().Str("watcher", w.config.Name).Msg("Discarding poll result after stop")
		return false, ErrNotRunning
	}

	if pollCtx.Err() != nil {
		telemetry.WatcherPollsTotal.With(w.config.Name, "canceled").Inc()
		log.Debug().Str("watcher", w.config.Name).Msg("Poll abandoned by caller")
		return false, fmt.Errorf("poll %s: %w", w.config.Name, context.Cause(pollCtx))
	}

	w.polls.Add(1)

	if err != nil {
		w.failures.Add(1)
		telemetry.WatcherPollsTotal.With(w.config.Name, "error").Inc()

		w.mu.Lock()
		w.lastPoll = time.Now().UTC()
		w.lastErr = err
		w.mu.Unlock()

		log.Warn().
			Err(err).
			Str("watcher", w.config.Name).
			Msg("Freshness poll failed, skipping tick")
		return false, err
	}

	telemetry.WatcherPollsTotal.With(w.config.Name, "ok").Inc()
	telemetry.WatcherLastSuccessSeconds.With(w.config.Name).SetToCurrentTime()

	w.mu.Lock()
	wasArmed := w.detector.Armed()
	previous := w.detector.Last()
	changed := w.detector.Observe(marker)
	w.lastPoll = time.Now().UTC()
	w.lastErr = nil
	if changed {
		w.lastChange = w.lastPoll
	}
	w.mu.Unlock()

	if !wasArmed {
		telemetry.WatcherArmed.With(w.config.Name).Set(1)
		log.Info().
			Str("watcher", w.config.Name).
			Stringer("marker", marker).
			Msg("Watcher armed")
		return false, nil
	}

	if !changed {
		return false, nil
	}

	w.changes.Add(1)
	telemetry.WatcherChangesTotal.With(w.config.Name).Inc()

	log.Info().
		Str("watcher", w.config.Name).
		Stringer("previous", previous).
		Stringer("marker", marker).
		Msg("Freshness marker changed")

	if _, err := w.config.Broadcaster.Broadcast(notify.Refresh(w.config.Target)); err != nil {
		log.Error().Err(err).Str("watcher", w.config.Name).Msg("Failed to broadcast refresh")
		return true, err
	}

	return true, nil
}
