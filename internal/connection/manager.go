package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/appsync-client/internal/auth"
	"github.com/rickgao/appsync-client/internal/metrics"
)

// Handler consumes realtime traffic for one Manager.
type Handler interface {
	// HandleFrame is called for every frame other than keep-alives and
	// handshake frames, one at a time, in arrival order.
	HandleFrame(f Frame)

	// ConnectionClosed is called once per torn-down session with the cause.
	ConnectionClosed(err error)
}

// handshakePayload is the empty payload signed and sent with the upgrade.
var handshakePayload = []byte("{}")

// Manager owns the realtime connection.
type Manager struct {
	cfg     ManagerConfig
	signer  auth.Signer
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Concurrent Connect callers converge on one dial
	group singleflight.Group

	mu      sync.Mutex
	handler Handler
	current *Session
	dialing *pendingDial

	// afterHandshake runs between a successful handshake and publishing
	// the session. Tests use it to land Close in that window.
	afterHandshake func()
}

// connectKey is the singleflight key shared by Connect callers.
const connectKey = "connect"

// pendingDial is the cancel handle of one in-flight dial.
type pendingDial struct {
	cancel context.CancelCauseFunc
}

// NewManager creates a new Connection Manager. m may be nil.
func NewManager(cfg ManagerConfig, signer auth.Signer, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg.withDefaults(),
		signer:  signer,
		logger:  logger.With("component", "realtime"),
		metrics: m,
	}
}

// SetHandler registers the frame consumer. It must be called before Connect.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.open() {
		return m.current
	}
	return nil
}

// Connect returns the open session, waiting for an in-flight handshake or
// starting a new one. ctx bounds only this caller's wait; the handshake
// itself is bounded by the handshake timeout and cancelled by Close.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	if s := m.Current(); s != nil {
		return s, nil
	}

	ch := m.group.DoChan(connectKey, func() (any, error) {
		if s := m.Current(); s != nil {
			return s, nil
		}
		return m.dial()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close aborts any in-flight handshake, tears down the open session and
// reports ErrClientClosing to the handler before returning. It is safe in
// any state and the Manager may connect again afterwards.
func (m *Manager) Close() {
	if s := m.abort(); s != nil {
		s.teardown(ErrClientClosing, true)
		return
	}
	m.notifyClosed(ErrClientClosing)
}

// CloseIdle releases the socket without notifying the handler. Callers use
// it once no subscription remains. A later Connect starts a fresh handshake.
func (m *Manager) CloseIdle() {
	if s := m.abort(); s != nil {
		m.logger.Debug("closing idle realtime connection")
		s.teardown(ErrClientClosing, false)
	}
}

// abort cancels the in-flight dial and detaches it from Connect callers
// that have not joined yet. It returns the open session, if any. The
// cancel happens under mu, so a dial either publishes its session before
// abort reads current or observes the cancellation.
func (m *Manager) abort() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialing != nil {
		m.dialing.cancel(ErrClientClosing)
		m.dialing = nil
		m.group.Forget(connectKey)
	}
	return m.current
}

func (m *Manager) dial() (*Session, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	d := &pendingDial{cancel: cancel}
	m.mu.Lock()
	m.dialing = d
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.dialing == d {
			m.dialing = nil
		}
		m.mu.Unlock()
	}()

	ctx, cancelTimeout := context.WithTimeoutCause(ctx, m.cfg.HandshakeTimeout, ErrHandshakeTimeout)
	defer cancelTimeout()

	s, err := m.handshake(ctx)
	if err != nil {
		m.metrics.ConnectionFailed()
		m.logger.Error("realtime handshake failed", "error", err)
		return nil, err
	}

	if m.afterHandshake != nil {
		m.afterHandshake()
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		s.socket.Close()
		m.metrics.ConnectionFailed()
		return nil, context.Cause(ctx)
	}
	m.current = s
	m.mu.Unlock()

	go s.run()

	m.metrics.ConnectionOpened()
	m.logger.Info("realtime connection open", "keep_alive", s.keepAlive)
	return s, nil
}

// handshake signs the empty payload, dials, sends connection_init and
// waits for connection_ack.
func (m *Manager) handshake(ctx context.Context) (*Session, error) {
	headers, err := m.signer.Sign(ctx, auth.Request{
		Method: http.MethodPost,
		URL:    strings.TrimSuffix(m.cfg.GraphQLURL, "/") + "/connect",
		Header: map[string]string{
			"accept":           "application/json, text/javascript",
			"content-encoding": "amz-1.0",
			"content-type":     "application/json; charset=UTF-8",
		},
		Body: handshakePayload,
	})
	if err != nil {
		return nil, fmt.Errorf("sign handshake: %w", err)
	}

	wsURL, err := HandshakeURL(m.cfg.RealtimeURL, headers, handshakePayload)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSocketConfig()
	cfg.URL = wsURL
	cfg.HandshakeTimeout = m.cfg.HandshakeTimeout
	cfg.WriteTimeout = m.cfg.WriteTimeout
	cfg.BufferSize = m.cfg.BufferSize

	ws := NewSocket(cfg, m.logger)
	if err := ws.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	if err := ws.Send(InitFrame()); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	keepAlive, err := awaitAck(ctx, ws)
	if err != nil {
		ws.Close()
		return nil, err
	}

	return newSession(m, ws, keepAlive), nil
}

// awaitAck reads frames until connection_ack or connection_error.
func awaitAck(ctx context.Context, ws Socket) (time.Duration, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, context.Cause(ctx)

		case err := <-ws.Errors():
			// Frames read before the failure are already buffered.
			for pending := true; pending; {
				select {
				case msg := <-ws.Messages():
					if keepAlive, done, ackErr := ackFrame(msg); done {
						return keepAlive, ackErr
					}
				default:
					pending = false
				}
			}
			return 0, fmt.Errorf("%w before ack: %v", ErrSocketClosed, err)

		case msg := <-ws.Messages():
			if keepAlive, done, err := ackFrame(msg); done {
				return keepAlive, err
			}
		}
	}
}

// ackFrame inspects one handshake-phase message. done reports whether the
// handshake is decided.
func ackFrame(msg InboundMessage) (keepAlive time.Duration, done bool, err error) {
	f, err := DecodeFrame(msg.Data)
	if err != nil {
		return 0, false, nil
	}

	switch f.Type {
	case TypeConnectionAck:
		var ack AckPayload
		if len(f.Payload) > 0 {
			if err := codec.Unmarshal(f.Payload, &ack); err != nil {
				return 0, true, fmt.Errorf("decode connection_ack: %w", err)
			}
		}
		if ack.ConnectionTimeoutMs <= 0 {
			return DefaultKeepAlive, true, nil
		}
		return time.Duration(ack.ConnectionTimeoutMs) * time.Millisecond, true, nil

	case TypeConnectionError:
		return 0, true, &ConnectionError{Payload: f.Payload}
	}
	return 0, false, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == s {
		m.current = nil
	}
}

func (m *Manager) currentHandler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func (m *Manager) notifyClosed(err error) {
	if h := m.currentHandler(); h != nil {
		h.ConnectionClosed(err)
	}
}

// RealtimeURL derives the websocket endpoint from the GraphQL endpoint.
func RealtimeURL(graphqlURL string) string {
	u := graphqlURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.Replace(u, "appsync-api", "appsync-realtime-api", 1)
}

// HandshakeURL encodes the signed headers and payload into the realtime URL.
func HandshakeURL(realtimeURL string, headers map[string]string, payload []byte) (string, error) {
	u, err := url.Parse(realtimeURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("realtime url must use ws or wss")
	}

	headerJSON, err := codec.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("encode handshake headers: %w", err)
	}

	q := u.Query()
	q.Set("header", base64.StdEncoding.EncodeToString(headerJSON))
	q.Set("payload", base64.StdEncoding.EncodeToString(payload))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
