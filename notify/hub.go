package notify

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/telemetry"
)

var (
	// ErrClientClosed is returned when sending to a connection that is no longer open
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when a slow connection cannot take another message
	ErrSendBufferFull = errors.New("client send buffer full")
)

// ClientInfo describes a connection for the admin API
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Targets     []string  `json:"targets,omitempty"`
	Open        bool      `json:"open"`
}

// Client is one live bidirectional connection
type Client interface {
	ID() string
	Info() ClientInfo
	// Open reports whether the connection can currently take messages
	Open() bool
	// Accepts reports whether the client subscribed to this event
	Accepts(e Event) bool
	// Send hands a serialized event to the connection without blocking
	Send(payload []byte) error
	Close()
}

// Broadcaster fans an event out to every connected client
type Broadcaster interface {
	Broadcast(e Event) (int, error)
}

// Mirror receives every locally originated broadcast, e.g. to publish it on a message bus
type Mirror interface {
	Mirror(e Event)
}

// Hub is the connection registry and broadcaster.
// Thread-safe: registration may interleave with a broadcast in progress.
type Hub struct {
	clients *xsync.MapOf[string, Client]
	history *History

	mu     sync.RWMutex
	mirror Mirror

	// closed is set by CloseAll; lifecycleMu orders it against Register
	lifecycleMu sync.RWMutex
	closed      bool
}

// NewHub creates a hub; history may be nil
func NewHub(history *History) *Hub {
	return &Hub{
		clients: xsync.NewMapOf[string, Client](),
		history: history,
	}
}

// SetMirror installs the mirror that receives locally originated broadcasts
func (h *Hub) SetMirror(m Mirror) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirror = m
}

// History returns the hub's broadcast history (may be nil)
func (h *Hub) History() *History {
	return h.history
}

// Register adds a client to the registry. After CloseAll the client is
// closed instead of registered.
func (h *Hub) Register(c Client) {
	h.lifecycleMu.RLock()
	defer h.lifecycleMu.RUnlock()

	if h.closed {
		c.Close()
		log.Debug().Str("client", c.ID()).Msg("Rejecting client, hub is closed")
		return
	}

	h.clients.Store(c.ID(), c)
	telemetry.WSClients.Inc()
	log.Info().Str("client", c.ID()).Str("remote", c.Info().RemoteAddr).Msg("Client connected")
}

// Unregister removes a client; unknown ids are ignored
func (h *Hub) Unregister(id string) {
	if _, ok := h.clients.LoadAndDelete(id); ok {
		telemetry.WSClients.Dec()
		log.Info().Str("client", id).Msg("Client disconnected")
	}
}

// Len returns the number of registered clients
func (h *Hub) Len() int {
	return h.clients.Size()
}

// Clients describes every registered client, ordered by connection time
func (h *Hub) Clients() []ClientInfo {
	infos := make([]ClientInfo, 0, h.clients.Size())
	for _, c := range h.snapshot() {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// CloseAll closes every registered client and refuses later registrations.
// Used on shutdown; calling it again is harmless.
func (h *Hub) CloseAll() {
	h.lifecycleMu.Lock()
	h.closed = true
	h.lifecycleMu.Unlock()

	for _, c := range h.snapshot() {
		c.Close()
		h.Unregister(c.ID())
	}
}

// Broadcast sends the event to every open client and hands it to the mirror.
// It returns the number of clients the event was delivered to.
func (h *Hub) Broadcast(e Event) (int, error) {
	return h.broadcast(e, true)
}

// BroadcastLocal sends the event to connected clients only, skipping the mirror.
// Used for events that arrived from the bus, so they are not published back.
func (h *Hub) BroadcastLocal(e Event) (int, error) {
	return h.broadcast(e, false)
}

func (h *Hub) broadcast(e Event, mirror bool) (int, error) {
	payload, err := Encode(e)
	if err != nil {
		// A malformed event is a programming error; record it loudly but keep the process up
		log.WithLevel(zerolog.FatalLevel).
			Err(err).
			Str("type", string(e.Type)).
			Str("target", e.Target).
			Msg("Refusing to broadcast malformed event")
		return 0, err
	}

	sent, failed, skipped := 0, 0, 0
	for _, c := range h.snapshot() {
		if !c.Open() {
			skipped++
			continue
		}
		if !c.Accepts(e) {
			continue
		}
		if err := c.Send(payload); err != nil {
			// The connection's own close path removes it from the registry
			failed++
			log.Debug().Err(err).Str("client", c.ID()).Msg("Failed to send event")
			continue
		}
		sent++
	}

	telemetry.BroadcastsTotal.With(string(e.Type)).Inc()
	telemetry.BroadcastSendsTotal.With("sent").Add(float64(sent))
	telemetry.BroadcastSendsTotal.With("failed").Add(float64(failed))
	telemetry.BroadcastSendsTotal.With("skipped").Add(float64(skipped))
	telemetry.BroadcastFanout.Observe(float64(sent))

	if sent > 0 {
		log.Info().
			Str("type", string(e.Type)).
			Str("target", e.Target).
			Int("clients", sent).
			Msg("Broadcast sent")
	}
	if failed > 0 {
		log.Warn().Int("failed", failed).Str("target", e.Target).Msg("Broadcast could not reach some clients")
	}

	h.history.Add(e, sent)

	if mirror {
		h.mu.RLock()
		m := h.mirror
		h.mu.RUnlock()
		if m != nil {
			m.Mirror(e)
		}
	}

	return sent, nil
}

// snapshot copies the registry so a broadcast never observes concurrent modification
func (h *Hub) snapshot() []Client {
	clients := make([]Client, 0, h.clients.Size())
	h.clients.Range(func(_ string, c Client) bool {
		clients = append(clients, c)
		return true
	})
	return clients
}
