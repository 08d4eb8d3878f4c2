package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/connection"
	"github.com/rickgao/appsync-client/internal/gql"
	"github.com/rickgao/appsync-client/internal/metrics"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// entry is the registry record of one subscription. All fields except the
// immutable ones are guarded by Multiplexer.mu.
type entry struct {
	id     uint64
	wireID string
	data   string // JSON-encoded request carried in the start frame
	stream *Stream
	ctx    context.Context
	cancel context.CancelFunc

	state     State
	session   *connection.Session // Session the start frame was sent on
	timer     *time.Timer         // Establishment timer
	completed chan struct{}       // Closed when complete arrives
}

// Multiplexer owns the subscription registry.
type Multiplexer struct {
	cfg     Config
	conns   *connection.Manager
	signer  auth.Signer
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[uint64]*entry
	nextID  uint64
	closed  bool
}

// NewMultiplexer creates a multiplexer and registers it as the frame
// handler of conns. m may be nil.
func NewMultiplexer(cfg Config, conns *connection.Manager, signer auth.Signer, logger *slog.Logger, m *metrics.Metrics) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}

	mux := &Multiplexer{
		cfg:     cfg.withDefaults(),
		conns:   conns,
		signer:  signer,
		logger:  logger.With("component", "subscriptions"),
		metrics: m,
		entries: make(map[uint64]*entry),
	}
	conns.SetHandler(mux)
	return mux
}

// Subscribe registers a subscription and starts establishing it in the
// background. The returned Stream reports establishment through Ready and
// WaitReady.
func (m *Multiplexer) Subscribe(query string, variables map[string]any) (*Stream, error) {
	data, err := gql.Request{Query: query, Variables: variables}.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, connection.ErrClientClosing
	}

	id := m.allocID()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:        id,
		wireID:    strconv.FormatUint(id, 10),
		data:      string(data),
		ctx:       ctx,
		cancel:    cancel,
		state:     StatePending,
		completed: make(chan struct{}),
	}
	e.stream = newStream(m, id, m.cfg.BufferSize)
	m.entries[id] = e
	m.mu.Unlock()

	m.metrics.SubscriptionAdded()
	m.logger.Debug("subscription registered",
		"id", id,
		"operation", gql.ParseOperation(query).String(),
	)

	go m.establish(e)
	return e.stream, nil
}

// allocID returns the next free id. Must be called with lock held.
func (m *Multiplexer) allocID() uint64 {
	for {
		m.nextID++
		if m.nextID > maxID {
			m.nextID = 1
		}
		if _, taken := m.entries[m.nextID]; !taken {
			return m.nextID
		}
	}
}

// establish connects, signs the start payload, arms the establishment
// timer and sends start.
func (m *Multiplexer) establish(e *entry) {
	if e.ctx.Err() != nil {
		return
	}

	// The dial outlives an unsubscribe, so wait for it and release the
	// socket if nothing is left to use it.
	session, err := m.conns.Connect(context.Background())
	if err != nil {
		m.fail(e, reasonError, fmt.Errorf("connect: %w", err))
		return
	}
	if e.ctx.Err() != nil {
		m.closeIfIdle()
		return
	}

	headers, err := m.signer.Sign(e.ctx, auth.Request{
		Method: http.MethodPost,
		URL:    m.cfg.GraphQLURL,
		Header: map[string]string{
			"accept":           "application/json, text/javascript",
			"content-encoding": "amz-1.0",
			"content-type":     "application/json; charset=UTF-8",
		},
		Body: []byte(e.data),
	})
	if err != nil {
		m.fail(e, reasonError, fmt.Errorf("sign subscription: %w", err))
		return
	}

	frame, err := connection.StartFrame(e.wireID, e.data, headers)
	if err != nil {
		m.fail(e, reasonError, err)
		return
	}

	m.mu.Lock()
	if m.entries[e.id] != e || e.state != StatePending {
		m.mu.Unlock()
		return
	}
	e.session = session
	e.timer = time.AfterFunc(m.cfg.EstablishTimeout, func() { m.establishTimedOut(e) })
	m.mu.Unlock()

	if err := session.Send(frame); err != nil {
		m.fail(e, reasonError, fmt.Errorf("send start: %w", err))
		return
	}
	m.logger.Debug("start sent", "id", e.id)
}

func (m *Multiplexer) establishTimedOut(e *entry) {
	m.mu.Lock()
	if m.entries[e.id] != e || e.state != StatePending {
		m.mu.Unlock()
		return
	}
	m.remove(e, reasonEstablishTimeout)
	session := e.session
	m.mu.Unlock()

	m.logger.Warn("subscription establishment timed out",
		"id", e.id,
		"timeout", m.cfg.EstablishTimeout,
	)
	e.stream.fail(ErrEstablishmentTimeout)

	if m.cfg.StopOnEstablishTimeout && session != nil {
		m.sendStop(session, e.wireID)
	}
	m.closeIfIdle()
}

// HandleFrame routes one frame to its subscription. It is called from the
// connection's reader goroutine.
func (m *Multiplexer) HandleFrame(f connection.Frame) {
	id, err := strconv.ParseUint(f.ID, 10, 64)
	if err != nil {
		m.logger.Warn("dropping frame without subscription id", "type", f.Type, "payload", string(f.Payload))
		return
	}

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("dropping frame for unknown subscription", "type", f.Type, "id", f.ID)
		return
	}

	switch f.Type {
	case connection.TypeStartAck:
		if e.state != StatePending {
			m.mu.Unlock()
			return
		}
		e.state = StateEstablished
		if e.timer != nil {
			e.timer.Stop()
		}
		m.mu.Unlock()

		m.logger.Debug("subscription established", "id", id)
		e.stream.markReady(nil)

	case connection.TypeData:
		m.mu.Unlock()
		m.handleData(e, f.Payload)

	case connection.TypeError:
		m.remove(e, reasonError)
		m.mu.Unlock()

		err := payloadError(f.ID, f.Payload)
		m.logger.Warn("subscription error", "id", id, "error", err)
		e.stream.fail(err)
		m.closeIfIdle()

	case connection.TypeComplete:
		m.remove(e, reasonComplete)
		m.mu.Unlock()

		m.logger.Debug("subscription complete", "id", id)
		e.stream.finish()
		m.closeIfIdle()

	default:
		m.mu.Unlock()
		m.logger.Debug("ignoring frame", "type", f.Type, "id", f.ID)
	}
}

// dataPayload is the payload of a data frame: a GraphQL response.
type dataPayload struct {
	Data   json.RawMessage  `json:"data"`
	Errors []gql.ErrorEntry `json:"errors"`
}

func (m *Multiplexer) handleData(e *entry, payload json.RawMessage) {
	var p dataPayload
	if err := codec.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("dropping undecodable data payload", "id", e.id, "error", err)
		return
	}

	if len(p.Errors) == 0 {
		item := p.Data
		if len(item) == 0 {
			item = payload
		}
		e.stream.push(item)
		return
	}

	// A GraphQL error ends the stream; tell the server we are done.
	m.mu.Lock()
	if m.entries[e.id] != e {
		m.mu.Unlock()
		return
	}
	wasEstablished := e.state == StateEstablished
	session := e.session
	m.remove(e, reasonGraphQLError)
	m.mu.Unlock()

	e.stream.fail(&gql.Error{Errors: p.Errors})
	if wasEstablished && session != nil {
		m.sendStop(session, e.wireID)
	}
	m.closeIfIdle()
}

// ConnectionClosed fails every registered subscription with err.
func (m *Multiplexer) ConnectionClosed(err error) {
	m.mu.Lock()
	failed := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		m.remove(e, reasonConnectionClosed)
		failed = append(failed, e)
	}
	m.mu.Unlock()

	if len(failed) > 0 {
		m.logger.Warn("realtime connection lost", "subscriptions", len(failed), "error", err)
	}
	for _, e := range failed {
		e.stream.fail(err)
	}
}

// Unsubscribe removes subscription id. An established subscription on the
// open connection is stopped on the wire first and removed once complete
// arrives or the unsubscribe timeout elapses. Anything else is removed
// locally without wire traffic.
func (m *Multiplexer) Unsubscribe(ctx context.Context, id uint64) error {
	current := m.conns.Current()

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if e.state != StateEstablished || current == nil || e.session != current {
		m.remove(e, reasonUnsubscribed)
		m.mu.Unlock()

		e.stream.finish()
		m.closeIfIdle()
		return nil
	}
	session := e.session
	m.mu.Unlock()

	var sendErr error
	if frame, err := connection.StopFrame(e.wireID); err != nil {
		sendErr = err
	} else if err := session.Send(frame); err != nil {
		sendErr = fmt.Errorf("send stop: %w", err)
	}

	if sendErr == nil {
		timer := time.NewTimer(m.cfg.UnsubscribeTimeout)
		select {
		case <-e.completed:
		case <-session.Done():
		case <-timer.C:
			m.logger.Warn("no complete after stop", "id", id, "timeout", m.cfg.UnsubscribeTimeout)
		case <-ctx.Done():
		}
		timer.Stop()
	}

	m.mu.Lock()
	if m.entries[id] == e {
		m.remove(e, reasonUnsubscribed)
	}
	m.mu.Unlock()

	e.stream.finish()
	m.closeIfIdle()
	return sendErr
}

// Close fails every subscription with connection.ErrClientClosing, closes
// the connection and rejects later Subscribe calls. Streams observe the
// failure before Close returns.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	failed := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		m.remove(e, reasonClosed)
		failed = append(failed, e)
	}
	m.mu.Unlock()

	for _, e := range failed {
		e.stream.fail(connection.ErrClientClosing)
	}
	m.conns.Close()
}

// Len returns the number of registered subscriptions.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// State returns the state of subscription id. Unregistered ids report
// StateTerminated.
func (m *Multiplexer) State(id uint64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e.state
	}
	return StateTerminated
}

// remove takes e out of the registry. Must be called with lock held.
func (m *Multiplexer) remove(e *entry, reason string) {
	if m.entries[e.id] != e {
		return
	}
	delete(m.entries, e.id)
	e.state = StateTerminated
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cancel()
	if reason == reasonComplete {
		close(e.completed)
	}
	m.metrics.SubscriptionRemoved(reason)
}

// fail removes e, if still registered, and ends its stream with err.
func (m *Multiplexer) fail(e *entry, reason string, err error) {
	m.mu.Lock()
	if m.entries[e.id] != e {
		m.mu.Unlock()
		return
	}
	m.remove(e, reason)
	m.mu.Unlock()

	m.logger.Warn("subscription failed", "id", e.id, "error", err)
	e.stream.fail(err)
	m.closeIfIdle()
}

// closeIfIdle releases the socket once no subscription remains. The check
// and the teardown happen under the registry lock so that a concurrent
// Subscribe either registers first or connects afresh afterwards.
func (m *Multiplexer) closeIfIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 && !m.closed {
		m.conns.CloseIdle()
	}
}

func (m *Multiplexer) sendStop(session *connection.Session, wireID string) {
	frame, err := connection.StopFrame(wireID)
	if err == nil {
		err = session.Send(frame)
	}
	if err != nil && !errors.Is(err, connection.ErrClientClosing) {
		m.logger.Debug("stop not sent", "id", wireID, "error", err)
	}
}

// payloadError converts an error frame payload into an error.
func payloadError(id string, payload json.RawMessage) error {
	var p struct {
		Errors []gql.ErrorEntry `json:"errors"`
	}
	if err := codec.Unmarshal(payload, &p); err == nil && len(p.Errors) > 0 {
		return &gql.Error{Errors: p.Errors}
	}
	return &ServerError{ID: id, Payload: payload}
}
