package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"sync"
)

// Stream is the consumer handle of one subscription. Payloads arrive in
// order and are buffered without limit. A stream is not restartable.
type Stream struct {
	id  uint64
	mux *Multiplexer
	buf *eventBuffer[json.RawMessage]

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error

	closeOnce sync.Once
}

func newStream(mux *Multiplexer, id uint64, bufferSize int) *Stream {
	return &Stream{
		id:    id,
		mux:   mux,
		buf:   newEventBuffer[json.RawMessage](bufferSize),
		ready: make(chan struct{}),
	}
}

// ID returns the subscription id.
func (s *Stream) ID() uint64 {
	return s.id
}

// Ready is closed once establishment succeeded or failed.
func (s *Stream) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the server acknowledged the subscription. It
// returns the establishment error, if any.
func (s *Stream) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next payload. It returns io.EOF after a clean
// completion and the terminal error otherwise.
func (s *Stream) Next(ctx context.Context) (json.RawMessage, error) {
	return s.buf.Receive(ctx)
}

// All iterates payloads until the stream ends. A terminal error other than
// io.EOF is yielded once as the final element.
func (s *Stream) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			payload, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}

// Buffered returns the number of payloads waiting to be read.
func (s *Stream) Buffered() int {
	return s.buf.Len()
}

// Close ends the stream and unsubscribes. Payloads already buffered remain
// readable. Close is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.markReady(ErrStreamClosed)
		s.buf.CloseWithError(nil)
		err = s.mux.Unsubscribe(context.Background(), s.id)
	})
	return err
}

func (s *Stream) markReady(err error) {
	s.readyOnce.Do(func() {
		s.readyErr = err
		close(s.ready)
	})
}

func (s *Stream) push(payload json.RawMessage) {
	s.buf.Send(payload)
}

func (s *Stream) fail(err error) {
	s.markReady(err)
	s.buf.CloseWithError(err)
}

func (s *Stream) finish() {
	s.markReady(nil)
	s.buf.CloseWithError(nil)
}
