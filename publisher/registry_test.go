package publisher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqwops/vigia/cfg"
	"github.com/tqwops/vigia/notify"
)

const testSinkType cfg.SinkType = "test-mock"

func registerTestSink(t *testing.T) map[string]*mockSink {
	t.Helper()
	sinks := make(map[string]*mockSink)
	RegisterSink(testSinkType, func(c cfg.SinkConfiguration) (Sink, error) {
		s := &mockSink{}
		sinks[c.Name] = s
		return s, nil
	})
	return sinks
}

func TestRegistry_MirrorsToEverySink(t *testing.T) {
	sinks := registerTestSink(t)

	r, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "all", Type: testSinkType, Format: "json"},
		{Name: "notifications", Type: testSinkType, Format: "msgpack", FilterTypes: []string{"notification"}},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	hub := notify.NewHub(nil)
	hub.SetMirror(r)

	_, err = hub.Broadcast(notify.Refresh("monitor-diario"))
	require.NoError(t, err)
	_, err = hub.Broadcast(notify.NewNotification([]string{"TODOS"}, notify.Notification{Title: "t"}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sinks["all"].getCalls()) == 2 && len(sinks["notifications"].getCalls()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, notify.NotificationTarget, sinks["notifications"].getCalls()[0].Key)

	statuses := r.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "msgpack", statuses[1].Format)
	assert.Equal(t, DefaultTopic, statuses[0].Topic)
}

func TestRegistry_LocalBroadcastIsNotMirrored(t *testing.T) {
	sinks := registerTestSink(t)

	r, err := NewRegistry([]cfg.SinkConfiguration{{Name: "all", Type: testSinkType}})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	hub := notify.NewHub(nil)
	hub.SetMirror(r)

	_, err = hub.BroadcastLocal(notify.Refresh("monitor-diario"))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sinks["all"].getCalls())
}

func TestRegistry_UnknownSinkType(t *testing.T) {
	_, err := NewRegistry([]cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}})
	assert.Error(t, err)
}

func TestRegistry_InvalidFormatClosesCreatedSinks(t *testing.T) {
	sinks := registerTestSink(t)

	_, err := NewRegistry([]cfg.SinkConfiguration{
		{Name: "ok", Type: testSinkType},
		{Name: "bad", Type: testSinkType, Format: "xml"},
	})
	require.Error(t, err)
	assert.True(t, sinks["ok"].closed.Load())
}

func TestRegistry_StartStop(t *testing.T) {
	sinks := registerTestSink(t)

	r, err := NewRegistry([]cfg.SinkConfiguration{{Name: "a", Type: testSinkType}})
	require.NoError(t, err)

	// Not running: mirror is a no-op
	r.Mirror(notify.Refresh("x"))

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())

	r.Stop()
	r.Stop()
	assert.True(t, sinks["a"].closed.Load())
	assert.Empty(t, sinks["a"].getCalls())
}
