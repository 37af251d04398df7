package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// newTestService starts a fake inference service. handler is invoked once
// per accepted websocket connection.
func newTestService(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// echoHandler replies to every frame request with "sign:<frame>".
func echoHandler(conn *websocket.Conn) {
	for {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := conn.WriteJSON(response{ID: req.ID, Text: "sign:" + req.Frame}); err != nil {
			return
		}
	}
}

func waitForState(t *testing.T, l *Link, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("link never reached state %v (currently %v)", want, l.State())
}

func TestSubmitWhileDisconnected(t *testing.T) {
	l := New(Config{ServiceURL: "ws://127.0.0.1:1/ws"})
	defer l.Close()

	// Never started, so the link must fail fast without touching transport.
	for i := 0; i < 3; i++ {
		_, err := l.Submit(context.Background(), "frame")
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
	}
}

func TestSubmitSuccess(t *testing.T) {
	_, url := newTestService(t, echoHandler)

	l := New(Config{ServiceURL: url, RetryInterval: 50 * time.Millisecond})
	l.Start()
	defer l.Close()
	waitForState(t, l, Connected)

	pred, err := l.Submit(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if pred.Text != "sign:abc" {
		t.Errorf("expected prediction %q, got %q", "sign:abc", pred.Text)
	}
}

func TestSubmitBusy(t *testing.T) {
	release := make(chan struct{})
	_, url := newTestService(t, func(conn *websocket.Conn) {
		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		<-release
		conn.WriteJSON(response{ID: req.ID, Text: "late"})
	})

	l := New(Config{ServiceURL: url, RetryInterval: 50 * time.Millisecond})
	l.Start()
	defer l.Close()
	waitForState(t, l, Connected)

	first := make(chan error, 1)
	go func() {
		_, err := l.Submit(context.Background(), "one")
		first <- err
	}()

	// Wait until the first submit holds the pending slot.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.mu.Lock()
		busy := l.pending != nil
		l.mu.Unlock()
		if busy {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := l.Submit(context.Background(), "two")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for concurrent submit, got %v", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
}

func TestSubmitTimeoutDiscardsLateResponse(t *testing.T) {
	requests := make(chan request, 2)
	_, url := newTestService(t, func(conn *websocket.Conn) {
		// First request: reply far too late. Second request: reply at once.
		var first request
		if err := conn.ReadJSON(&first); err != nil {
			return
		}
		requests <- first

		var second request
		if err := conn.ReadJSON(&second); err != nil {
			return
		}
		conn.WriteJSON(response{ID: first.ID, Text: "stale"})
		conn.WriteJSON(response{ID: second.ID, Text: "fresh"})
	})

	l := New(Config{
		ServiceURL:    url,
		SubmitTimeout: 100 * time.Millisecond,
		RetryInterval: 50 * time.Millisecond,
	})
	l.Start()
	defer l.Close()
	waitForState(t, l, Connected)

	_, err := l.Submit(context.Background(), "one")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	<-requests

	// The stale response for the first request must not leak into this call.
	pred, err := l.Submit(context.Background(), "two")
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if pred.Text != "fresh" {
		t.Errorf("expected %q, got %q", "fresh", pred.Text)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var dials atomic.Int32
	firstConn := make(chan *websocket.Conn, 1)
	_, url := newTestService(t, func(conn *websocket.Conn) {
		if dials.Add(1) == 1 {
			firstConn <- conn
		}
		echoHandler(conn)
	})

	l := New(Config{ServiceURL: url, RetryInterval: 50 * time.Millisecond})
	l.Start()
	defer l.Close()
	waitForState(t, l, Connected)

	// Drop the connection server-side and wait for recovery.
	(<-firstConn).Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dials.Load() < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	waitForState(t, l, Connected)

	if got := dials.Load(); got != 2 {
		t.Errorf("expected exactly 2 connection attempts, got %d", got)
	}

	pred, err := l.Submit(context.Background(), "again")
	if err != nil {
		t.Fatalf("submit after reconnect failed: %v", err)
	}
	if pred.Text != "sign:again" {
		t.Errorf("unexpected prediction %q", pred.Text)
	}
}

func TestStateChangeNotifications(t *testing.T) {
	_, url := newTestService(t, echoHandler)

	states := make(chan State, 16)
	l := New(Config{
		ServiceURL:    url,
		RetryInterval: 50 * time.Millisecond,
		OnStateChange: func(s State) { states <- s },
	})
	l.Start()
	defer l.Close()
	waitForState(t, l, Connected)

	seen := map[State]bool{}
	deadline := time.After(time.Second)
	for !seen[Connecting] || !seen[Connected] {
		select {
		case s := <-states:
			seen[s] = true
		case <-deadline:
			t.Fatalf("missing state notifications, saw %v", seen)
		}
	}
}

func TestJSONWireFormat(t *testing.T) {
	data, err := json.Marshal(request{ID: "r1", Frame: "payload"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":"r1","frame":"payload"}` {
		t.Errorf("unexpected request encoding: %s", data)
	}

	var resp response
	if err := json.Unmarshal([]byte(`{"text":"hello"}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "hello" || resp.ID != "" {
		t.Errorf("unexpected response decoding: %+v", resp)
	}
}
