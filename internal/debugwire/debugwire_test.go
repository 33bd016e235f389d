package debugwire

import (
	"context"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func listenLocal(t *testing.T) *Server {
	t.Helper()
	s, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, s.URL(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"8000", "127.0.0.1:8000"},
		{"0.0.0.0:9000", "0.0.0.0:9000"},
		{"localhost:0", "localhost:0"},
	}
	for _, tt := range tests {
		if got := ListenAddr(tt.in); got != tt.want {
			t.Errorf("ListenAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWaitForClient_UnblocksOnConnect(t *testing.T) {
	s := listenLocal(t)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.WaitForClient(ctx)
	}()

	dial(t, s)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForClient: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForClient did not return after a client connected")
	}
}

func TestWaitForClient_ContextExpires(t *testing.T) {
	s := listenLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.WaitForClient(ctx); err == nil {
		t.Fatal("expected an error when no client connects")
	}
}

func TestPublish_DeliversEvents(t *testing.T) {
	s := listenLocal(t)
	c := dial(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitForClient(ctx); err != nil {
		t.Fatalf("WaitForClient: %v", err)
	}

	s.Publish(Event{Event: "thread.attach", Thread: 42})
	s.Publish(Event{Event: "exception", Thread: 42, Detail: "Error: boom"})

	var got Event
	if err := wsjson.Read(ctx, c, &got); err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if got.Event != "thread.attach" || got.Thread != 42 {
		t.Fatalf("first event = %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatal("event time was not stamped")
	}
	if err := wsjson.Read(ctx, c, &got); err != nil {
		t.Fatalf("read second event: %v", err)
	}
	if got.Event != "exception" || got.Detail != "Error: boom" {
		t.Fatalf("second event = %+v", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// Publishing after close is a no-op.
	s.Publish(Event{Event: "vm.destroy"})
}
