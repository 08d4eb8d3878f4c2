// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - GraphQL operation attempts, outcomes and latencies (HTTP path)
//   - Realtime connection opens, failures and keep-alive lapses
//   - Active subscriptions and inbound frames by type
//
// All methods are safe on a nil *Metrics, so instrumentation is optional.
package metrics
