// Package metrics provides Prometheus-compatible metrics for relayd.
//
// Metrics are exposed in the Prometheus text format (text/plain; version=0.0.4)
// using only the standard library. Counters, gauges and histograms are safe
// for concurrent use.
//
// # Default Metrics
//
// Init registers the relay metrics on a process-wide registry:
//
//   - relayd_operations_total: operations by op (store, release, forward, post) and outcome
//   - relayd_backend_duration_seconds: latency of backend calls
//   - relayd_armed: 1 while the next POST will be captured
//   - relayd_pending: 1 while a captured request has not been released
//   - relayd_events_dropped_total: events a sink could not accept, by sink
//
// # Usage
//
//	registry := metrics.Init()
//	metrics.OperationsTotal.WithLabels("release", "ok").Inc()
//	http.Handle("/metrics", registry.Handler())
package metrics
