package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/db"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/publisher"
	"github.com/tqwops/vigia/publisher/sink"
	"github.com/tqwops/vigia/watcher"
)

type stepSource struct {
	mu      sync.Mutex
	markers []db.Marker
	calls   int
}

func (s *stepSource) Marker(ctx context.Context) (db.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.markers) {
		i = len(s.markers) - 1
	}
	s.calls++
	return s.markers[i], nil
}

type recordingClient struct {
	mu       sync.Mutex
	payloads []string
}

func (c *recordingClient) ID() string { return "rec" }
func (c *recordingClient) Info() notify.ClientInfo {
	return notify.ClientInfo{ID: "rec", ConnectedAt: time.Now(), Open: true}
}
func (c *recordingClient) Open() bool { return true }
func (c *recordingClient) Accepts(notify.Event) bool { return true }
func (c *recordingClient) Close() {}
func (c *recordingClient) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(p))
	return nil
}

func (c *recordingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

type fixture struct {
	server   *httptest.Server
	hub      *notify.Hub
	client   *recordingClient
	watchers *watcher.Registry
	mock     *sink.MockSink
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()

	original := cfg.Config
	cfg.Config = cfg.NewDefault()
	cfg.Config.Admin.Secret = secret
	t.Cleanup(func() { cfg.Config = original })

	history, err := notify.NewHistory(16)
	require.NoError(t, err)
	hub := notify.NewHub(history)
	client := &recordingClient{}
	hub.Register(client)

	mock := &sink.MockSink{}
	publisher.RegisterSink("admin-test", func(cfg.SinkConfiguration) (publisher.Sink, error) {
		return mock, nil
	})
	sinks, err := publisher.NewRegistry([]cfg.SinkConfiguration{{Name: "audit", Type: "admin-test"}})
	require.NoError(t, err)
	require.NoError(t, sinks.Start())
	t.Cleanup(sinks.Stop)
	hub.SetMirror(sinks)

	w, err := watcher.New(watcher.Config{
		Name:        "monitor-diario",
		Source:      &stepSource{markers: []db.Marker{db.NewMarker("a"), db.NewMarker("b")}},
		Broadcaster: hub,
		Interval:    time.Hour,
	})
	require.NoError(t, err)
	watchers, err := watcher.NewRegistry(w)
	require.NoError(t, err)
	watchers.StartAll()
	t.Cleanup(watchers.StopAll)

	router := NewRouter(NewAdminHandlers(hub, watchers, sinks), notify.NewHandler(hub, notify.HandlerConfig{SendBuffer: 1}), nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{server: srv, hub: hub, client: client, watchers: watchers, mock: mock}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "")

	status, body := f.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, float64(1), data["clients"])
	assert.Equal(t, map[string]interface{}{"monitor-diario": false}, data["watchers"])
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, "s3cret")

	status, body := f.do(t, "GET", "/admin/clients", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing authentication header", body["error"])

	status, _ = f.do(t, "GET", "/admin/clients", "", map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, "GET", "/admin/clients", "", map[string]string{"X-Vigia-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, "GET", "/admin/clients", "", map[string]string{"X-Vigia-Secret": "s3cret"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, "GET", "/admin/clients", "", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, status)

	// Health stays public
	status, _ = f.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestWatcherEndpoints(t *testing.T) {
	f := newFixture(t, "")

	status, body := f.do(t, "GET", "/admin/watchers", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = f.do(t, "GET", "/admin/watchers/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "unknown watcher")

	// First poll arms, second detects the change and broadcasts
	status, body = f.do(t, "POST", "/admin/watchers/monitor-diario/poll", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["data"].(map[string]interface{})["changed"])

	status, body = f.do(t, "POST", "/admin/watchers/monitor-diario/poll", "", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["changed"])
	assert.Equal(t, "b", data["status"].(map[string]interface{})["marker"])

	assert.Equal(t, 1, f.client.count())

	status, body = f.do(t, "GET", "/admin/watchers/monitor-diario", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]interface{})["armed"])
}

func TestPollStoppedWatcherConflicts(t *testing.T) {
	f := newFixture(t, "")
	f.watchers.StopAll()

	status, _ := f.do(t, "POST", "/admin/watchers/monitor-diario/poll", "", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestBroadcastEndpoint(t *testing.T) {
	f := newFixture(t, "")

	status, body := f.do(t, "POST", "/admin/broadcast", `{"target":"monitor-semanal"}`, nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["delivered"])
	assert.Equal(t, "refresh", data["event"].(map[string]interface{})["type"])

	status, _ = f.do(t, "POST", "/admin/broadcast", `{"type":"refresh"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, "POST", "/admin/broadcast", `{"bogus":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, 1, f.client.count())

	// Mirrored to the configured sink
	require.Eventually(t, func() bool { return len(f.mock.Snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "monitor-semanal", f.mock.Snapshot()[0].Key)
}

func TestNotifyEndpoint(t *testing.T) {
	f := newFixture(t, "")

	status, body := f.do(t, "POST", "/admin/notify",
		`{"profiles":["TODOS"],"id":9,"title":"Cierre","content":"Listo","priority":"success"}`, nil)
	require.Equal(t, http.StatusOK, status)

	ev := body["data"].(map[string]interface{})["event"].(map[string]interface{})
	assert.Equal(t, "notification", ev["type"])
	assert.Equal(t, "user-notifications", ev["target"])

	status, _ = f.do(t, "POST", "/admin/notify", `{"title":"no profiles"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestEventsAndSinksEndpoints(t *testing.T) {
	f := newFixture(t, "")

	for _, target := range []string{"a", "b", "c"} {
		_, err := f.hub.Broadcast(notify.Refresh(target))
		require.NoError(t, err)
	}

	status, body := f.do(t, "GET", "/admin/events?limit=2", "", nil)
	require.Equal(t, http.StatusOK, status)
	records := body["data"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].(map[string]interface{})["event"].(map[string]interface{})["target"])

	status, _ = f.do(t, "GET", "/admin/events?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = f.do(t, "GET", "/admin/sinks", "", nil)
	require.Equal(t, http.StatusOK, status)
	sinks := body["data"].([]interface{})
	require.Len(t, sinks, 1)
	assert.Equal(t, "audit", sinks[0].(map[string]interface{})["name"])
}

func TestAdminDisabled(t *testing.T) {
	original := cfg.Config
	cfg.Config = cfg.NewDefault()
	cfg.Config.Admin.Enabled = false
	defer func() { cfg.Config = original }()

	hub := notify.NewHub(nil)
	watchers, err := watcher.NewRegistry()
	require.NoError(t, err)

	router := NewRouter(NewAdminHandlers(hub, watchers, nil), notify.NewHandler(hub, notify.HandlerConfig{}), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/admin/clients", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	original := cfg.Config
	cfg.Config = cfg.NewDefault()
	defer func() { cfg.Config = original }()

	hub := notify.NewHub(nil)
	watchers, err := watcher.NewRegistry()
	require.NoError(t, err)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vigia_ws_clients 0\n"))
	})
	router := NewRouter(NewAdminHandlers(hub, watchers, nil), notify.NewHandler(hub, notify.HandlerConfig{}), metrics)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vigia_ws_clients")
}
