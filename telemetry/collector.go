package telemetry

import (
	"sync"
	"time"
)

// ClientCounter reports the number of live websocket clients
type ClientCounter interface {
	Len() int
}

// ArmedReporter reports which watchers have observed their first marker
type ArmedReporter interface {
	ArmedStates() map[string]bool
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	clients  ClientCounter
	watchers ArmedReporter
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DefaultCollectInterval is used when no positive interval is configured
const DefaultCollectInterval = 5 * time.Second

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(clients ClientCounter, watchers ArmedReporter, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &MetricsCollector{
		clients:  clients,
		watchers: watchers,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.clients != nil {
		WSClients.Set(float64(mc.clients.Len()))
	}

	if mc.watchers == nil {
		return
	}

	for name, armed := range mc.watchers.ArmedStates() {
		v := 0.0
		if armed {
			v = 1
		}
		WatcherArmed.With(name).Set(v)
	}
}
