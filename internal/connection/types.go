package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrHandshakeTimeout = errors.New("realtime handshake timeout")
	ErrKeepAliveLapsed  = errors.New("realtime keep-alive lapsed")
	ErrClientClosing    = errors.New("client closing")
	ErrSocketClosed     = errors.New("realtime socket closed")
)

// ConnectionError is returned when the server rejects the handshake with a
// connection_error frame.
type ConnectionError struct {
	Payload json.RawMessage
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime connection rejected: %s", e.Payload)
}

// Frame types.
const (
	TypeConnectionInit  = "connection_init"
	TypeConnectionAck   = "connection_ack"
	TypeConnectionError = "connection_error"
	TypeKeepAlive       = "ka"
	TypeStart           = "start"
	TypeStartAck        = "start_ack"
	TypeData            = "data"
	TypeError           = "error"
	TypeComplete        = "complete"
	TypeStop            = "stop"
)

// Subprotocol is the websocket subprotocol spoken by the realtime endpoint.
const Subprotocol = "graphql-ws"

// Frame is one realtime protocol message.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckPayload is the payload of a connection_ack frame.
type AckPayload struct {
	ConnectionTimeoutMs int64 `json:"connectionTimeoutMs"`
}

// StartPayload is the payload of a start frame. Data is the JSON-encoded
// GraphQL request, carried as a string.
type StartPayload struct {
	Data       string          `json:"data"`
	Extensions StartExtensions `json:"extensions"`
}

// StartExtensions carries the signed headers of a start frame.
type StartExtensions struct {
	Authorization map[string]string `json:"authorization"`
}

// InboundMessage is one raw frame and the time it was read.
type InboundMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// DecodeFrame parses a raw message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("decode frame: missing type")
	}
	return f, nil
}

// InitFrame returns the connection_init frame.
func InitFrame() []byte {
	return []byte(`{"type":"connection_init"}`)
}

// StartFrame encodes a start frame for subscription id.
func StartFrame(id, data string, authorization map[string]string) ([]byte, error) {
	payload, err := codec.Marshal(StartPayload{
		Data:       data,
		Extensions: StartExtensions{Authorization: authorization},
	})
	if err != nil {
		return nil, fmt.Errorf("encode start payload: %w", err)
	}
	return codec.Marshal(Frame{Type: TypeStart, ID: id, Payload: payload})
}

// StopFrame encodes a stop frame for subscription id.
func StopFrame(id string) ([]byte, error) {
	return codec.Marshal(Frame{Type: TypeStop, ID: id})
}

// SocketConfig configures a Socket.
type SocketConfig struct {
	URL              string        // Full handshake URL including query
	Subprotocols     []string      // Offered websocket subprotocols
	HandshakeTimeout time.Duration // Dial timeout for the HTTP upgrade
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultSocketConfig returns sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		BufferSize:       1024,
	}
}

// Manager defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second

	// DefaultKeepAlive is used when the ack carries no connectionTimeoutMs.
	DefaultKeepAlive = 5 * time.Minute
)

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	GraphQLURL       string        // HTTPS GraphQL endpoint; the handshake is signed against it
	RealtimeURL      string        // Websocket endpoint; derived from GraphQLURL when empty
	HandshakeTimeout time.Duration // Max time from dial until connection_ack
	WriteTimeout     time.Duration // Write deadline for frames
	BufferSize       int           // Inbound message buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		BufferSize:       1024,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.RealtimeURL == "" {
		c.RealtimeURL = RealtimeURL(c.GraphQLURL)
	}
	return c
}
