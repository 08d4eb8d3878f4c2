// Package api executes GraphQL queries and mutations over signed HTTPS.
//
// Each attempt is signed, sent under its own response deadline and
// classified:
//   - ResponseTimeoutError, RateLimitedError, TransportError: retryable
//   - NonRetryableFetchError: bad status or content type, surfaced at once
//   - *gql.Error: a well-formed response carrying an errors array, never retried
//
// Client.Post drives the retry plan from package retry over the executor.
package api
