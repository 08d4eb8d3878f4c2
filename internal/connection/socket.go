package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds the write of the close frame on Close.
const closeGrace = time.Second

// Socket is one websocket connection to the realtime endpoint. Inbound
// frames arrive in order on Messages and are never dropped. The read error
// that ends the connection is delivered once on Errors, unless Close ended it.
type Socket interface {
	Connect(ctx context.Context) error
	Close() error
	Send(data []byte) error
	Messages() <-chan InboundMessage
	Errors() <-chan error
	IsConnected() bool
}

type wsSocket struct {
	cfg    SocketConfig
	logger *slog.Logger

	mu     sync.Mutex // guards conn and closed
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	live    atomic.Bool

	inbound  chan InboundMessage
	readErr  chan error
	shutdown chan struct{}
}

// NewSocket creates an unconnected socket.
func NewSocket(cfg SocketConfig, logger *slog.Logger) Socket {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsSocket{
		cfg:      cfg,
		logger:   logger,
		inbound:  make(chan InboundMessage, cfg.BufferSize),
		readErr:  make(chan error, 1),
		shutdown: make(chan struct{}),
	}
}

// Connect performs the websocket upgrade and starts reading.
func (s *wsSocket) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrAlreadyClosed
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		Subprotocols:     s.cfg.Subprotocols,
	}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	s.conn = conn
	s.live.Store(true)
	s.mu.Unlock()

	go s.readLoop(conn)

	s.logger.Debug("websocket connected", "subprotocol", conn.Subprotocol())
	return nil
}

// Close sends a normal-closure frame and closes the connection. Close is
// idempotent and suppresses the resulting read error.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.live.Store(false)
	close(s.shutdown)

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	s.writeMu.Unlock()
	return conn.Close()
}

// Send writes one text frame. Writes are serialized.
func (s *wsSocket) Send(data []byte) error {
	if !s.live.Load() {
		return ErrNotConnected
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Messages() <-chan InboundMessage {
	return s.inbound
}

func (s *wsSocket) Errors() <-chan error {
	return s.readErr
}

func (s *wsSocket) IsConnected() bool {
	return s.live.Load()
}

func (s *wsSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readLoop forwards frames until the connection fails or Close is called.
// A full buffer blocks the reader.
func (s *wsSocket) readLoop(conn *websocket.Conn) {
	defer s.live.Store(false)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.reportReadError(err)
			return
		}

		select {
		case s.inbound <- InboundMessage{Data: data, ReceivedAt: time.Now()}:
		case <-s.shutdown:
			return
		}
	}
}

func (s *wsSocket) reportReadError(err error) {
	select {
	case <-s.shutdown:
		return
	default:
	}
	select {
	case s.readErr <- err:
	default:
	}
}
