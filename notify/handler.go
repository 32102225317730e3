package notify

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/telemetry"
)

// HandlerConfig controls websocket session behavior
type HandlerConfig struct {
	WelcomeMessage string
	AllowedOrigins []string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	ReadLimit      int64
}

// HandlerConfigFrom builds a HandlerConfig from the service configuration
func HandlerConfigFrom(c *cfg.Configuration) HandlerConfig {
	return HandlerConfig{
		WelcomeMessage: c.HTTP.WelcomeMessage,
		AllowedOrigins: c.HTTP.AllowedOrigins,
		PingPeriod:     time.Duration(c.WebSocket.PingIntervalMS) * time.Millisecond,
		PongWait:       time.Duration(c.WebSocket.PongWaitMS) * time.Millisecond,
		WriteWait:      time.Duration(c.WebSocket.WriteWaitMS) * time.Millisecond,
		SendBuffer:     c.WebSocket.SendBuffer,
		ReadLimit:      int64(c.WebSocket.ReadLimitBytes),
	}
}

// Handler upgrades HTTP requests to websocket sessions registered with a Hub.
// Clients may narrow what they receive with ?target=pattern[,pattern...].
type Handler struct {
	hub      *Hub
	config   HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler for the hub
func NewHandler(hub *Hub, config HandlerConfig) *Handler {
	h := &Handler{hub: hub, config: config}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows any origin unless an allow list is configured
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter, err := NewGlobFilter(splitPatterns(r.URL.Query().Get("target")), nil)
	if err != nil {
		telemetry.WSConnectionsTotal.With("rejected").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		telemetry.WSConnectionsTotal.With("rejected").Inc()
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Problem initiating websocket")
		return
	}
	telemetry.WSConnectionsTotal.With("accepted").Inc()

	client := newWSClient(uuid.NewString(), conn, filter, h.config.SendBuffer)

	// Queue the welcome before registering so it is always the first frame
	if h.config.WelcomeMessage != "" {
		payload, err := Encode(Welcome(h.config.WelcomeMessage))
		if err == nil {
			err = client.Send(payload)
		}
		if err != nil {
			log.Debug().Err(err).Str("client", client.ID()).Msg("Failed to queue welcome message")
		}
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client.ID())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writePump(h.config.PingPeriod, h.config.WriteWait)
	}()

	client.readPump(h.config.PongWait, h.config.ReadLimit)
	<-writerDone
}

func splitPatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
