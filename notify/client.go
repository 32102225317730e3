package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsClient is a websocket connection registered with the hub.
// The write pump is the only goroutine that writes to conn.
type wsClient struct {
	id          string
	conn        *websocket.Conn
	filter      *GlobFilter
	remoteAddr  string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(id string, conn *websocket.Conn, filter *GlobFilter, buffer int) *wsClient {
	return &wsClient{
		id:          id,
		conn:        conn,
		filter:      filter,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now().UTC(),
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Info() ClientInfo {
	return ClientInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		Targets:     c.filter.Patterns(),
		Open:        c.Open(),
	}
}

func (c *wsClient) Open() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsClient) Accepts(e Event) bool {
	return c.filter.Accepts(e)
}

// Send enqueues a payload for the write pump. It never blocks: a client that
// cannot keep up is treated as a failed send.
func (c *wsClient) Send(payload []byte) error {
	if !c.Open() {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close marks the client closed; the write pump then closes the socket
func (c *wsClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains the send queue and keeps the connection alive with pings
func (c *wsClient) writePump(pingPeriod, writeWait time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Expected when the other end goes away
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write ping")
				return
			}
		case <-c.done:
			deadline := time.Now().Add(writeWait)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return
		}
	}
}

// readPump consumes inbound frames until the connection fails. Clients never
// send anything meaningful; reading is needed to process pong and close frames.
func (c *wsClient) readPump(pongWait time.Duration, readLimit int64) {
	defer c.Close()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("client", c.id).Msg("Connection closed unexpectedly")
			}
			return
		}
	}
}
