package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Sauti-Agent"); got != "agent-1" {
			t.Errorf("identity header = %q, want %q", got, "agent-1")
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	got, err := c.Send(context.Background(), "agent-1", []Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi there" {
		t.Errorf("response = %q, want %q", got, "hi there")
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"finally"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	got, err := c.Send(context.Background(), "agent-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "finally" {
		t.Errorf("response = %q, want %q", got, "finally")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestSend_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	_, err := c.Send(context.Background(), "agent-1", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want exactly 3", n)
	}

	// Inter-attempt delays grow linearly: ~1s then ~2s.
	if len(stamps) == 3 {
		first := stamps[1].Sub(stamps[0])
		second := stamps[2].Sub(stamps[1])
		if first < 900*time.Millisecond {
			t.Errorf("first delay = %v, want >= ~1s", first)
		}
		if second < 1900*time.Millisecond {
			t.Errorf("second delay = %v, want >= ~2s", second)
		}
		if second <= first {
			t.Errorf("delays should increase: %v then %v", first, second)
		}
	}
}

func TestSend_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, testLogger())
	_, err := c.Send(ctx, "agent-1", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}

func TestStream_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Sauti-Agent"); got != "agent-2" {
			t.Errorf("identity header = %q, want %q", got, "agent-2")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n"))
		w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	stream, err := c.Stream(context.Background(), "agent-2", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var got string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got += delta
	}
	if got != "Hello" {
		t.Errorf("content = %q, want %q", got, "Hello")
	}
}

func TestStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such agent", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testLogger())
	if _, err := c.Stream(context.Background(), "ghost", nil); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
