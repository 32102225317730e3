package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqwops/vigia/cfg"
)

func TestNoopWhenDisabled(t *testing.T) {
	registry = nil

	c := NewCounterVec("disabled_total", "never registered", []string{"x"})
	c.With("a").Inc()

	assert.IsType(t, noopVec[Counter]{}, c)
	assert.IsType(t, noop{}, NewGauge("disabled", "never registered"))
	assert.Nil(t, GetMetricsHandler())
}

func TestInitializeTelemetry_ServesMetrics(t *testing.T) {
	original := cfg.Config
	defer func() {
		cfg.Config = original
		registry = nil
	}()

	cfg.Config = cfg.NewDefault()
	cfg.Config.InstanceID = "test-instance"
	cfg.Config.Prometheus.Enabled = true

	InitializeTelemetry()
	require.NotNil(t, GetMetricsHandler())

	WatcherPollsTotal.With("monitor-diario", "ok").Inc()
	BroadcastsTotal.With("refresh").Inc()
	WatcherLastSuccessSeconds.With("monitor-diario").SetToCurrentTime()
	BroadcastFanout.Observe(3)

	rec := httptest.NewRecorder()
	GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vigia_watcher_polls_total{instance_id="test-instance",result="ok",watcher="monitor-diario"} 1`)
	assert.Contains(t, string(body), `vigia_broadcasts_total{instance_id="test-instance",type="refresh"} 1`)
	assert.Contains(t, string(body), `vigia_watcher_last_success_timestamp_seconds{instance_id="test-instance",watcher="monitor-diario"}`)
	assert.Contains(t, string(body), `vigia_broadcast_fanout_bucket{instance_id="test-instance",le="5"} 1`)
}

type fakeClients int

func (f fakeClients) Len() int { return int(f) }

type fakeWatchers map[string]bool

func (f fakeWatchers) ArmedStates() map[string]bool { return f }

func TestMetricsCollector_StartStop(t *testing.T) {
	mc := NewMetricsCollector(fakeClients(3), fakeWatchers{"monitor-diario": true}, 10*time.Millisecond)
	mc.Start()
	time.Sleep(25 * time.Millisecond)
	mc.Stop()
	// Second stop must not panic on a closed channel
	mc.Stop()
}
