package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the connection state of the link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Submit while the link is down. Frames
	// are perishable, so they are dropped instead of queued.
	ErrNotConnected = errors.New("inference: not connected")

	// ErrBusy is returned when another frame is already awaiting a response.
	ErrBusy = errors.New("inference: request already in flight")

	// ErrTimeout is returned when no correlated response arrived in time.
	ErrTimeout = errors.New("inference: response timeout")

	// ErrTransport wraps send/receive faults that drop the connection.
	ErrTransport = errors.New("inference: transport failure")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("inference: link closed")
)

// Prediction is the label the service produced for one frame.
type Prediction struct {
	Text string
}

// Wire format of the inference service. Requests carry a correlation id;
// the service may echo it back. A response without an id is correlated to
// the single outstanding request by arrival order.
type request struct {
	ID    string `json:"id"`
	Frame string `json:"frame"`
}

type response struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

type result struct {
	resp response
	err  error
}

type pendingRequest struct {
	id   string
	done chan result
}

// Config for the shared inference link.
type Config struct {
	ServiceURL    string
	SubmitTimeout time.Duration // default 5s
	RetryInterval time.Duration // default 5s

	// OnStateChange, if set, is notified of every state transition. It is
	// invoked on its own goroutine and must not be relied on for ordering.
	OnStateChange func(State)
}

// Link owns the single websocket connection to the inference service and
// enforces the at-most-one-outstanding-request discipline. All mutation
// funnels through one mutex; Submit never blocks other sessions beyond the
// duration of its own wait.
type Link struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending *pendingRequest

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a link in the Disconnected state. Call Start to begin dialing.
func New(cfg Config) *Link {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	return &Link{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.SubmitTimeout,
		},
		closed: make(chan struct{}),
	}
}

// Start launches the retry loop. The loop makes exactly one connection
// attempt per tick while the link is Disconnected; the Connecting state is
// the reentrancy guard against overlapping attempts.
func (l *Link) Start() {
	l.wg.Add(1)
	go l.run()
}

func (l *Link) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	l.connect()
	for {
		select {
		case <-l.closed:
			return
		case <-ticker.C:
			l.connect()
		}
	}
}

func (l *Link) connect() {
	l.mu.Lock()
	if l.state != Disconnected {
		l.mu.Unlock()
		return
	}
	l.setStateLocked(Connecting)
	l.mu.Unlock()

	conn, _, err := l.dialer.Dial(l.cfg.ServiceURL, nil)
	if err != nil {
		log.Printf("Inference link: connect to %s failed: %v", l.cfg.ServiceURL, err)
		l.mu.Lock()
		l.setStateLocked(Disconnected)
		l.mu.Unlock()
		return
	}

	l.mu.Lock()
	select {
	case <-l.closed:
		l.mu.Unlock()
		conn.Close()
		return
	default:
	}
	l.conn = conn
	l.setStateLocked(Connected)
	l.mu.Unlock()

	log.Printf("Inference link: connected to %s", l.cfg.ServiceURL)
	l.wg.Add(1)
	go l.readLoop(conn)
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.dropConn(conn, err)
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("Inference link: unparsable service message: %v", err)
			continue
		}
		l.deliver(resp)
	}
}

// deliver routes a service response to the pending request, or discards it
// when nothing is pending anymore (late response after a timeout) or the
// correlation id does not match.
func (l *Link) deliver(resp response) {
	l.mu.Lock()
	p := l.pending
	if p == nil || (resp.ID != "" && resp.ID != p.id) {
		l.mu.Unlock()
		log.Printf("Inference link: discarding uncorrelated response")
		return
	}
	l.pending = nil
	l.mu.Unlock()

	p.done <- result{resp: resp}
}

// dropConn transitions to Disconnected once per connection and fails any
// request still awaiting a response on it. The retry loop picks the link
// back up on its next tick.
func (l *Link) dropConn(conn *websocket.Conn, cause error) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	p := l.pending
	l.pending = nil
	l.setStateLocked(Disconnected)
	l.mu.Unlock()

	conn.Close()
	if p != nil {
		p.done <- result{err: fmt.Errorf("%w: connection lost", ErrTransport)}
	}

	select {
	case <-l.closed:
	default:
		log.Printf("Inference link: connection lost: %v", cause)
	}
}

// Submit sends one frame and waits for its correlated response or the
// submit timeout. It fails fast with ErrNotConnected while the link is
// down and with ErrBusy while another frame is in flight.
func (l *Link) Submit(ctx context.Context, frame string) (Prediction, error) {
	l.mu.Lock()
	if l.state != Connected {
		l.mu.Unlock()
		return Prediction{}, ErrNotConnected
	}
	if l.pending != nil {
		l.mu.Unlock()
		return Prediction{}, ErrBusy
	}
	p := &pendingRequest{
		id:   uuid.NewString(),
		done: make(chan result, 1),
	}
	l.pending = p
	conn := l.conn
	l.mu.Unlock()

	payload, err := json.Marshal(request{ID: p.id, Frame: frame})
	if err != nil {
		l.clearPending(p)
		return Prediction{}, fmt.Errorf("failed to encode frame request: %w", err)
	}

	// The pending slot doubles as the write lock: at most one Submit can
	// reach this point per connection.
	conn.SetWriteDeadline(time.Now().Add(l.cfg.SubmitTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		l.clearPending(p)
		l.dropConn(conn, err)
		return Prediction{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	timer := time.NewTimer(l.cfg.SubmitTimeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		if res.err != nil {
			return Prediction{}, res.err
		}
		return Prediction{Text: res.resp.Text}, nil
	case <-timer.C:
		l.clearPending(p)
		return Prediction{}, ErrTimeout
	case <-ctx.Done():
		l.clearPending(p)
		return Prediction{}, ctx.Err()
	case <-l.closed:
		l.clearPending(p)
		return Prediction{}, ErrClosed
	}
}

// clearPending releases the slot only if it still holds this request, so a
// response delivered concurrently with a timeout is never misrouted.
func (l *Link) clearPending(p *pendingRequest) {
	l.mu.Lock()
	if l.pending == p {
		l.pending = nil
	}
	l.mu.Unlock()
}

// State returns the current connection state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	if l.cfg.OnStateChange != nil {
		go l.cfg.OnStateChange(s)
	}
}

// Close stops the retry loop, drops the connection and waits for all link
// goroutines to finish. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		conn := l.conn
		l.conn = nil
		l.setStateLocked(Disconnected)
		l.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	l.wg.Wait()
	return nil
}
