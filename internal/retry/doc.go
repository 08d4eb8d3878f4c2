// Package retry generates the attempt schedule for GraphQL operations.
//
// A schedule is the initial attempt (caller timeout, no delay) followed by
// Retries generated entries whose delay and response timeout grow
// geometrically. Delays carry up to +25% jitter to avoid synchronized retries.
package retry
