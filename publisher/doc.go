// Package publisher mirrors dashboard events onto message buses and accepts
// events pushed by other services.
//
// # Architecture
//
// The package consists of three main components:
//
// 1. Registry: implements notify.Mirror and fans every locally originated
// broadcast out to one Worker per configured sink
// 2. Worker: bounded queue, encoding and retry with exponential backoff
// 3. Ingress: NATS subscription that feeds events back into the hub
//
// # Sinks
//
// Sinks register themselves by type from the sink subpackage:
//
//	import _ "github.com/tqwops/vigia/publisher/sink"
//
//	registry, err := publisher.NewRegistry(cfg.Config.Sinks)
//	if err != nil {
//		return err
//	}
//	hub.SetMirror(registry)
//	registry.Start()
//	defer registry.Stop()
//
// # Frames
//
// Every frame is an encoded notify.Event (JSON or msgpack, per sink) keyed by
// the event target. NATS and Kafka frames carry Content-Type and Vigia-Origin
// headers; the ingress uses the first to pick a decoder and the second to
// skip frames this instance published itself.
//
// # Delivery
//
// Mirroring is at-most-once and never slows a broadcast: when a sink queue is
// full the event is dropped and counted in vigia_sink_dropped_total.
package publisher
