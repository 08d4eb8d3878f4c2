package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestEventBuffer_BasicSendReceive(t *testing.T) {
	buf := newEventBuffer[int](10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	for i := 0; i < 5; i++ {
		val, err := buf.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error for item %d: %v", i, err)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestEventBuffer_GrowsWhenFull(t *testing.T) {
	buf := newEventBuffer[int](4)

	for i := 0; i < 4; i++ {
		buf.Send(i)
	}
	if got := buf.Cap(); got != 4 {
		t.Errorf("Cap() = %d before overflow, want 4", got)
	}

	buf.Send(4)
	if got := buf.Cap(); got != 8 {
		t.Errorf("Cap() = %d after overflow, want 8", got)
	}
	if got := buf.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5", got)
	}
}

func TestEventBuffer_OrderAcrossGrowsAndWraps(t *testing.T) {
	buf := newEventBuffer[int](4)
	ctx := context.Background()

	next := 0
	for round := 0; round < 20; round++ {
		// Interleave sends and receives so head wraps before growing
		for i := 0; i < 5; i++ {
			buf.Send(round*5 + i)
		}
		for i := 0; i < 3; i++ {
			val, err := buf.Receive(ctx)
			if err != nil {
				t.Fatalf("Receive() error: %v", err)
			}
			if val != next {
				t.Fatalf("received %d, want %d", val, next)
			}
			next++
		}
	}

	if got := buf.Len(); got != 40 {
		t.Errorf("Len() = %d, want 40", got)
	}
}

func TestEventBuffer_CloseDrainsThenEOF(t *testing.T) {
	buf := newEventBuffer[string](4)
	ctx := context.Background()

	buf.Send("a")
	buf.Send("b")
	if !buf.CloseWithError(nil) {
		t.Fatal("first CloseWithError returned false")
	}
	if buf.CloseWithError(errors.New("late")) {
		t.Error("second CloseWithError should return false")
	}
	if buf.Send("c") {
		t.Error("Send after close should return false")
	}

	for _, want := range []string{"a", "b"} {
		got, err := buf.Receive(ctx)
		if err != nil || got != want {
			t.Fatalf("Receive() = %q, %v; want %q", got, err, want)
		}
	}

	if _, err := buf.Receive(ctx); err != io.EOF {
		t.Errorf("Receive() error = %v, want io.EOF", err)
	}
	// Terminal state is sticky
	if _, err := buf.Receive(ctx); err != io.EOF {
		t.Errorf("second Receive() error = %v, want io.EOF", err)
	}
}

func TestEventBuffer_CloseWithError(t *testing.T) {
	buf := newEventBuffer[int](4)
	boom := errors.New("boom")

	buf.Send(1)
	buf.CloseWithError(boom)

	if v, err := buf.Receive(context.Background()); err != nil || v != 1 {
		t.Fatalf("Receive() = %d, %v; want 1", v, err)
	}
	if _, err := buf.Receive(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Receive() error = %v, want %v", err, boom)
	}
}

func TestEventBuffer_BlockingReceive(t *testing.T) {
	buf := newEventBuffer[int](4)

	var wg sync.WaitGroup
	wg.Add(1)

	var got int
	var gotErr error
	go func() {
		defer wg.Done()
		got, gotErr = buf.Receive(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Send(42)
	wg.Wait()

	if gotErr != nil || got != 42 {
		t.Errorf("Receive() = %d, %v; want 42", got, gotErr)
	}
}

func TestEventBuffer_ReceiveContextCanceled(t *testing.T) {
	buf := newEventBuffer[int](4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := buf.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() error = %v, want DeadlineExceeded", err)
	}
}
