// Package poller runs a fixed set of GraphQL queries on an interval.
//
// Each cycle executes every query concurrently, bounded by
// Config.Concurrency, and hands each result to a Handler. A failed query is
// reported to the handler and logged; it does not stop the cycle.
package poller
