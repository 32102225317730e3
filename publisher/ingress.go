package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/encoding"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/telemetry"
)

// LocalBroadcaster delivers an event to connected clients without mirroring it
type LocalBroadcaster interface {
	BroadcastLocal(e notify.Event) (int, error)
}

// IngressConfig configures the bus subscription
type IngressConfig struct {
	URL        string // NATS server URL
	Subject    string // Subject to subscribe to
	Format     string // Codec used when a frame carries no Content-Type header
	InstanceID string // Frames published by this instance are ignored
}

// Ingress subscribes to a NATS subject and delivers every valid event to the
// local clients. Other services use it to push notifications, and other
// instances use it to share refreshes.
type Ingress struct {
	config IngressConfig
	target LocalBroadcaster
	codec  encoding.Codec

	mu  sync.Mutex
	nc  *nats.Conn
	sub *nats.Subscription
}

// NewIngress creates an ingress; it does not connect until Start
func NewIngress(config IngressConfig, target LocalBroadcaster) (*Ingress, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("ingress requires a nats url")
	}
	if config.Subject == "" {
		return nil, fmt.Errorf("ingress requires a subject")
	}
	if target == nil {
		return nil, fmt.Errorf("ingress requires a broadcaster")
	}

	codec, err := encoding.ForFormat(config.Format)
	if err != nil {
		return nil, err
	}

	return &Ingress{config: config, target: target, codec: codec}, nil
}

// Start connects to NATS and subscribes
func (i *Ingress) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.nc != nil {
		return nil
	}

	nc, err := nats.Connect(i.config.URL,
		nats.Name("vigia-ingress-"+i.config.InstanceID),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(i.config.Subject, func(msg *nats.Msg) {
		i.handle(msg.Data, msg.Header)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", i.config.Subject, err)
	}

	i.nc = nc
	i.sub = sub

	log.Info().
		Str("url", i.config.URL).
		Str("subject", i.config.Subject).
		Msg("Ingress subscribed")

	return nil
}

// Stop unsubscribes and closes the connection. Safe to call more than once.
func (i *Ingress) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.nc == nil {
		return
	}

	if err := i.sub.Unsubscribe(); err != nil {
		log.Debug().Err(err).Msg("Failed to unsubscribe ingress")
	}
	i.nc.Close()
	i.nc = nil
	i.sub = nil

	log.Info().Msg("Ingress stopped")
}

// handle decodes a frame and broadcasts it locally. Malformed frames are
// counted and dropped; they never reach clients.
func (i *Ingress) handle(data []byte, header nats.Header) {
	if header != nil && i.config.InstanceID != "" && header.Get(HeaderOrigin) == i.config.InstanceID {
		telemetry.IngressEventsTotal.With("own").Inc()
		return
	}

	codec := i.codec
	if header != nil {
		if ct := header.Get(HeaderContentType); ct != "" {
			codec = encoding.ForContentType(ct)
		}
	}

	var e notify.Event
	if err := codec.Unmarshal(data, &e); err != nil {
		telemetry.IngressEventsTotal.With("invalid").Inc()
		log.Warn().Err(err).Str("subject", i.config.Subject).Msg("Dropping undecodable ingress frame")
		return
	}
	if err := e.Validate(); err != nil {
		telemetry.IngressEventsTotal.With("invalid").Inc()
		log.Warn().Err(err).Str("subject", i.config.Subject).Msg("Dropping invalid ingress event")
		return
	}

	if _, err := i.target.BroadcastLocal(e); err != nil {
		telemetry.IngressEventsTotal.With("error").Inc()
		return
	}
	telemetry.IngressEventsTotal.With("delivered").Inc()
}
