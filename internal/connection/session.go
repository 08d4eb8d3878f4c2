package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session is one acknowledged realtime connection.
type Session struct {
	manager   *Manager
	socket    Socket
	keepAlive time.Duration
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSession(m *Manager, ws Socket, keepAlive time.Duration) *Session {
	return &Session{
		manager:   m,
		socket:    ws,
		keepAlive: keepAlive,
		logger:    m.logger,
		done:      make(chan struct{}),
	}
}

// Send writes one frame.
func (s *Session) Send(data []byte) error {
	if !s.open() {
		return s.Err()
	}
	return s.socket.Send(data)
}

// KeepAlive returns the negotiated keep-alive interval.
func (s *Session) KeepAlive() time.Duration {
	return s.keepAlive
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the teardown cause, or nil while open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) open() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// run is the single reader of the session. It owns the keep-alive watchdog.
func (s *Session) run() {
	watchdog := time.NewTimer(s.keepAlive)
	defer watchdog.Stop()

	for {
		select {
		case <-s.done:
			return

		case err := <-s.socket.Errors():
			// Frames read before the failure are already buffered.
			for pending := true; pending; {
				select {
				case msg := <-s.socket.Messages():
					if !s.handle(msg, watchdog) {
						return
					}
				default:
					pending = false
				}
			}
			s.teardown(fmt.Errorf("%w: %v", ErrSocketClosed, err), true)
			return

		case <-watchdog.C:
			s.manager.metrics.KeepAliveLapsed()
			s.logger.Warn("keep-alive lapsed", "interval", s.keepAlive)
			s.teardown(ErrKeepAliveLapsed, true)
			return

		case msg := <-s.socket.Messages():
			if !s.handle(msg, watchdog) {
				return
			}
		}
	}
}

// handle processes one inbound message and reports whether the session
// is still open.
func (s *Session) handle(msg InboundMessage, watchdog *time.Timer) bool {
	f, err := DecodeFrame(msg.Data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "error", err)
		return true
	}
	s.manager.metrics.FrameReceived(f.Type)

	switch f.Type {
	case TypeKeepAlive:
		watchdog.Reset(s.keepAlive)

	case TypeConnectionAck:
		s.logger.Debug("ignoring repeated connection_ack")

	case TypeConnectionError:
		s.teardown(&ConnectionError{Payload: f.Payload}, true)
		return false

	default:
		s.logger.Debug("frame received", "type", f.Type, "id", f.ID)
		if h := s.manager.currentHandler(); h != nil {
			h.HandleFrame(f)
		}
	}
	return true
}

// teardown closes the socket and releases the session exactly once. When
// notify is set the handler learns the cause before teardown returns.
func (s *Session) teardown(cause error, notify bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()

		close(s.done)
		s.socket.Close()
		s.manager.release(s)

		s.logger.Info("realtime connection closed", "cause", cause)
		if notify {
			s.manager.notifyClosed(cause)
		}
	})
}
