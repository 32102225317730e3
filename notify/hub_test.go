package notify

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id      string
	open    atomic.Bool
	filter  *GlobFilter
	sendErr error

	mu       sync.Mutex
	received [][]byte
	closed   bool
}

func newFakeClient(id string) *fakeClient {
	c := &fakeClient{id: id}
	c.open.Store(true)
	return c
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Info() ClientInfo {
	return ClientInfo{ID: c.id, ConnectedAt: time.Now(), Open: c.Open()}
}

func (c *fakeClient) Open() bool { return c.open.Load() }

func (c *fakeClient) Accepts(e Event) bool { return c.filter.Accepts(e) }

func (c *fakeClient) Send(payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.open.Store(false)
}

func (c *fakeClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	for i, m := range c.received {
		out[i] = string(m)
	}
	return out
}

type recordingMirror struct {
	mu     sync.Mutex
	events []Event
}

func (m *recordingMirror) Mirror(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *recordingMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestHub_BroadcastSkipsClosedClients(t *testing.T) {
	hub := NewHub(nil)

	open := make([]*fakeClient, 5)
	for i := range open {
		open[i] = newFakeClient(fmt.Sprintf("open-%d", i))
		hub.Register(open[i])
	}
	closed := newFakeClient("closed")
	closed.open.Store(false)
	hub.Register(closed)

	sent, err := hub.Broadcast(Refresh("monitor-diario"))
	require.NoError(t, err)
	assert.Equal(t, 5, sent)

	for _, c := range open {
		require.Len(t, c.messages(), 1)
		assert.JSONEq(t, `{"type":"refresh","target":"monitor-diario"}`, c.messages()[0])
	}
	assert.Empty(t, closed.messages())
}

func TestHub_BroadcastNoClients(t *testing.T) {
	hub := NewHub(nil)
	sent, err := hub.Broadcast(Refresh("monitor-diario"))
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestHub_SendFailureDoesNotAbortBroadcast(t *testing.T) {
	hub := NewHub(nil)

	broken := newFakeClient("broken")
	broken.sendErr = errors.New("broken pipe")
	healthy := newFakeClient("healthy")

	hub.Register(broken)
	hub.Register(healthy)

	sent, err := hub.Broadcast(Refresh("monitor-diario"))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, healthy.messages(), 1)
}

func TestHub_MalformedEventReturnsError(t *testing.T) {
	history, err := NewHistory(8)
	require.NoError(t, err)
	hub := NewHub(history)
	mirror := &recordingMirror{}
	hub.SetMirror(mirror)

	c := newFakeClient("a")
	hub.Register(c)

	sent, err := hub.Broadcast(Event{Type: EventRefresh})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, 0, sent)
	assert.Empty(t, c.messages())
	assert.Equal(t, 0, mirror.count())
	assert.Equal(t, 0, history.Len())
}

func TestHub_FilteredClients(t *testing.T) {
	hub := NewHub(nil)

	diario := newFakeClient("diario")
	f, err := NewGlobFilter([]string{"monitor-diario"}, nil)
	require.NoError(t, err)
	diario.filter = f

	all := newFakeClient("all")

	hub.Register(diario)
	hub.Register(all)

	sent, err := hub.Broadcast(Refresh("monitor-semanal"))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Empty(t, diario.messages())
	assert.Len(t, all.messages(), 1)
}

func TestHub_MirrorAndLocal(t *testing.T) {
	history, err := NewHistory(8)
	require.NoError(t, err)
	hub := NewHub(history)
	mirror := &recordingMirror{}
	hub.SetMirror(mirror)

	_, err = hub.Broadcast(Refresh("a"))
	require.NoError(t, err)
	_, err = hub.BroadcastLocal(Refresh("b"))
	require.NoError(t, err)

	assert.Equal(t, 1, mirror.count())
	assert.Equal(t, 2, history.Len())
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	a := newFakeClient("a")
	b := newFakeClient("b")

	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.Len())
	assert.Len(t, hub.Clients(), 2)

	hub.Unregister("a")
	hub.Unregister("a")
	hub.Unregister("missing")
	assert.Equal(t, 1, hub.Len())

	hub.CloseAll()
	assert.Equal(t, 0, hub.Len())
	assert.True(t, b.closed)
}

func TestHub_ConcurrentRegistrationDuringBroadcast(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 50; i++ {
		hub.Register(newFakeClient(fmt.Sprintf("base-%d", i)))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := fmt.Sprintf("churn-%d", i)
			hub.Register(newFakeClient(id))
			hub.Unregister(id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			sent, err := hub.Broadcast(Refresh("monitor-diario"))
			assert.NoError(t, err)
			assert.GreaterOrEqual(t, sent, 50)
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, hub.Len())
}

func TestHub_RegisterAfterCloseAll(t *testing.T) {
	hub := NewHub(nil)
	before := newFakeClient("before")
	hub.Register(before)

	hub.CloseAll()
	assert.False(t, before.Open())
	assert.Equal(t, 0, hub.Len())

	late := newFakeClient("late")
	hub.Register(late)

	assert.Equal(t, 0, hub.Len(), "a closed hub does not take new clients")
	assert.False(t, late.Open())

	hub.CloseAll()
}
