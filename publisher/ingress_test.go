package publisher

import (
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tqwops/vigia/encoding"
	"github.com/tqwops/vigia/notify"
)

type recordingTarget struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingTarget) BroadcastLocal(e notify.Event) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return 1, nil
}

func (r *recordingTarget) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func newTestIngress(t *testing.T, format string) (*Ingress, *recordingTarget) {
	t.Helper()
	target := &recordingTarget{}
	in, err := NewIngress(IngressConfig{
		URL:        "nats://127.0.0.1:4222",
		Subject:    "vigia.events",
		Format:     format,
		InstanceID: "self",
	}, target)
	require.NoError(t, err)
	return in, target
}

func TestNewIngress_Validation(t *testing.T) {
	target := &recordingTarget{}

	_, err := NewIngress(IngressConfig{Subject: "s"}, target)
	assert.Error(t, err)
	_, err = NewIngress(IngressConfig{URL: "nats://x"}, target)
	assert.Error(t, err)
	_, err = NewIngress(IngressConfig{URL: "nats://x", Subject: "s"}, nil)
	assert.Error(t, err)
	_, err = NewIngress(IngressConfig{URL: "nats://x", Subject: "s", Format: "xml"}, target)
	assert.Error(t, err)
}

func TestIngress_DeliversJSONFrames(t *testing.T) {
	in, target := newTestIngress(t, "json")

	in.handle([]byte(`{"type":"refresh","target":"monitor-diario"}`), nil)

	require.Len(t, target.Events(), 1)
	assert.Equal(t, notify.Refresh("monitor-diario"), target.Events()[0])
}

func TestIngress_UsesContentTypeHeader(t *testing.T) {
	in, target := newTestIngress(t, "json")

	codec, err := encoding.ForFormat(encoding.FormatMsgpack)
	require.NoError(t, err)
	ev := notify.NewNotification([]string{"SUPERVISOR"}, notify.Notification{Title: "Alerta", Priority: "warning"})
	data, err := codec.Marshal(ev)
	require.NoError(t, err)

	header := nats.Header{}
	header.Set(HeaderContentType, codec.ContentType())
	in.handle(data, header)

	require.Len(t, target.Events(), 1)
	assert.Equal(t, ev, target.Events()[0])
}

func TestIngress_SkipsOwnFrames(t *testing.T) {
	in, target := newTestIngress(t, "json")

	header := nats.Header{}
	header.Set(HeaderOrigin, "self")
	in.handle([]byte(`{"type":"refresh","target":"monitor-diario"}`), header)

	header.Set(HeaderOrigin, "peer")
	in.handle([]byte(`{"type":"refresh","target":"monitor-diario"}`), header)

	assert.Len(t, target.Events(), 1)
}

func TestIngress_DropsInvalidFrames(t *testing.T) {
	in, target := newTestIngress(t, "json")

	in.handle([]byte(`not json`), nil)
	in.handle([]byte(`{"type":"refresh"}`), nil)
	in.handle([]byte(`{"type":"reload","target":"x"}`), nil)

	assert.Empty(t, target.Events())
}

func TestIngress_StopWithoutStart(t *testing.T) {
	in, _ := newTestIngress(t, "json")
	in.Stop()
	in.Stop()
}
