// Package peer ties the transport, codec, registry and correlation engine
// together into one connection endpoint.
//
// The package contains the dispatch router, which classifies every decoded
// frame and routes it to the correlation engine (responses) or the handler
// registry (requests and normal messages), and the shared single-goroutine
// executor all handler invocations are scheduled onto. Scheduling handlers
// off the per-connection read loops decouples network concurrency from user
// logic: handlers observe one consistent execution order and need no
// locking of their own.
//
// Reply ordering across concurrently in-flight requests follows handler
// completion order, not request arrival order.
package peer
