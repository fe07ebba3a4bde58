// Package dragonsync bridges drone Remote ID telemetry into tactical
// awareness systems.
//
// Radio gateways (ESP32 sniffers, DJI receivers) publish decoded Remote ID
// broadcasts as JSON on a NATS subject. DragonSync normalizes those
// messages into a single observation shape, tracks each drone in a bounded
// time-aware registry, and on a fixed cadence encodes Cursor-on-Target
// events for the drone, its pilot, and its home point while fanning
// snapshots out to downstream sinks.
//
// # Architecture
//
//	input/telemetry -> remoteid (normalize) -> tracker (registry+scheduler)
//	                                              |-> cot + cotsender (TAK)
//	                                              `-> sink (NATS, entity API, WebSocket)
//
// The control loop in the service package is the single writer of the
// registry; sink and transport calls run on a worker pool so a slow
// consumer never stalls ingest. Every drone is rate-limited individually,
// evicted after an inactivity window, and displaced FIFO when the registry
// is at capacity.
package dragonsync
