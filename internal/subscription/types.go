package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrEstablishmentTimeout = errors.New("subscription establishment timeout")
	ErrStreamClosed         = errors.New("subscription stream closed")
)

// ServerError is an error frame whose payload carries no GraphQL errors array.
type ServerError struct {
	ID      string
	Payload json.RawMessage
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("subscription %s failed: %s", e.ID, e.Payload)
}

// Defaults
const (
	DefaultEstablishTimeout   = 5 * time.Second
	DefaultUnsubscribeTimeout = 5 * time.Second
	DefaultBufferSize         = 16

	// maxID is the largest id before the counter wraps. It matches the
	// largest integer a JSON number represents exactly.
	maxID = 1<<53 - 1
)

// Config configures a Multiplexer.
type Config struct {
	GraphQLURL         string        // Endpoint the start payload is signed against
	EstablishTimeout   time.Duration // Max time from sending start until start_ack
	UnsubscribeTimeout time.Duration // Max wait for complete after stop

	// StopOnEstablishTimeout sends a stop frame when establishment times
	// out so the server does not keep an orphaned subscription.
	StopOnEstablishTimeout bool

	BufferSize int // Initial per-stream buffer capacity
}

func (c Config) withDefaults() Config {
	if c.EstablishTimeout <= 0 {
		c.EstablishTimeout = DefaultEstablishTimeout
	}
	if c.UnsubscribeTimeout <= 0 {
		c.UnsubscribeTimeout = DefaultUnsubscribeTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// State is the lifecycle state of one subscription.
type State int

const (
	StatePending State = iota
	StateEstablished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Removal reasons, used as the metrics label.
const (
	reasonComplete         = "complete"
	reasonError            = "error"
	reasonGraphQLError     = "graphql_error"
	reasonEstablishTimeout = "establish_timeout"
	reasonUnsubscribed     = "unsubscribed"
	reasonConnectionClosed = "connection_closed"
	reasonClosed           = "closed"
)
