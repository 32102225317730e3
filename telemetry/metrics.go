package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// PollBuckets for the freshness query against the upstream store
	PollBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// FanoutBuckets for number of clients reached per broadcast
	FanoutBuckets = []float64{0, 1, 2, 5, 10, 25, 50, 100, 250}
)

// Watcher Metrics
var (
	// WatcherPollsTotal counts polls by watcher and result (ok, error, discarded, canceled)
	WatcherPollsTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// WatcherPollDurationSeconds measures freshness query latency per watcher
	WatcherPollDurationSeconds HistogramVec = noopVec[Histogram]{metric: noop{}}

	// WatcherChangesTotal counts detected marker changes per watcher
	WatcherChangesTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// WatcherArmed is 1 once a watcher has observed its first marker
	WatcherArmed GaugeVec = noopVec[Gauge]{metric: noop{}}

	// WatcherLastSuccessSeconds is the unix time of the last successful poll per watcher
	WatcherLastSuccessSeconds GaugeVec = noopVec[Gauge]{metric: noop{}}

	// WatcherSkippedTicksTotal counts ticks skipped because one was already in flight
	WatcherSkippedTicksTotal CounterVec = noopVec[Counter]{metric: noop{}}
)

// Broadcast Metrics
var (
	// BroadcastsTotal counts broadcast events by type (refresh, notification)
	BroadcastsTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// BroadcastSendsTotal counts per-connection sends by result (sent, failed, skipped)
	BroadcastSendsTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// BroadcastFanout measures how many connections received each broadcast
	BroadcastFanout Histogram = noop{}

	// WSClients tracks currently registered websocket clients
	WSClients Gauge = noop{}

	// WSConnectionsTotal counts websocket upgrade attempts by result (accepted, rejected)
	WSConnectionsTotal CounterVec = noopVec[Counter]{metric: noop{}}
)

// Publisher Metrics
var (
	// SinkPublishTotal counts mirror publishes by sink and result (success, retry, failed)
	SinkPublishTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// SinkDroppedTotal counts events dropped because a sink queue was full
	SinkDroppedTotal CounterVec = noopVec[Counter]{metric: noop{}}

	// IngressEventsTotal counts events received over the ingress subscription by result
	IngressEventsTotal CounterVec = noopVec[Counter]{metric: noop{}}
)

// InitMetrics registers all metrics with the prometheus registry
func InitMetrics() {
	WatcherPollsTotal = NewCounterVec(
		"watcher_polls_total",
		"Freshness polls by watcher and result",
		[]string{"watcher", "result"},
	)
	WatcherPollDurationSeconds = NewHistogramVec(
		"watcher_poll_duration_seconds",
		"Freshness query duration in seconds",
		[]string{"watcher"},
		PollBuckets,
	)
	WatcherChangesTotal = NewCounterVec(
		"watcher_changes_total",
		"Detected freshness marker changes",
		[]string{"watcher"},
	)
	WatcherArmed = NewGaugeVec(
		"watcher_armed",
		"Whether the watcher has observed its first marker (1=armed)",
		[]string{"watcher"},
	)
	WatcherLastSuccessSeconds = NewGaugeVec(
		"watcher_last_success_timestamp_seconds",
		"Unix time of the last successful freshness poll",
		[]string{"watcher"},
	)
	WatcherSkippedTicksTotal = NewCounterVec(
		"watcher_skipped_ticks_total",
		"Ticks skipped because a previous tick was still in flight",
		[]string{"watcher"},
	)

	BroadcastsTotal = NewCounterVec(
		"broadcasts_total",
		"Broadcast events by type",
		[]string{"type"},
	)
	BroadcastSendsTotal = NewCounterVec(
		"broadcast_sends_total",
		"Per-connection sends by result",
		[]string{"result"},
	)
	BroadcastFanout = NewHistogram(
		"broadcast_fanout",
		"Connections reached per broadcast",
		FanoutBuckets,
	)
	WSClients = NewGauge(
		"ws_clients",
		"Currently registered websocket clients",
	)
	WSConnectionsTotal = NewCounterVec(
		"ws_connections_total",
		"Websocket upgrade attempts by result",
		[]string{"result"},
	)

	SinkPublishTotal = NewCounterVec(
		"sink_publish_total",
		"Mirror publishes by sink and result",
		[]string{"sink", "result"},
	)
	SinkDroppedTotal = NewCounterVec(
		"sink_dropped_total",
		"Events dropped because the sink queue was full",
		[]string{"sink"},
	)
	IngressEventsTotal = NewCounterVec(
		"ingress_events_total",
		"Events received over the ingress subscription by result",
		[]string{"result"},
	)
}
