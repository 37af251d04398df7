// Package gateway accepts client websocket connections and relays their
// camera frames onto the single shared inference link, one session per
// client. The gateway holds no business logic beyond wiring and lifecycle
// bookkeeping; frame semantics live in the inference link and sessions.
package gateway

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amanullahtanweer/sign-relay/internal/inference"
	"github.com/amanullahtanweer/sign-relay/internal/observe"
	"github.com/amanullahtanweer/sign-relay/internal/sessionvars"
)

// Gateway multiplexes all client sessions onto one inference link.
type Gateway struct {
	link *inference.Link
	vars *sessionvars.Store
	met  *observe.Metrics

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// New creates a gateway. vars and met may be nil.
func New(link *inference.Link, vars *sessionvars.Store, met *observe.Metrics) *Gateway {
	return &Gateway{
		link: link,
		vars: vars,
		met:  met,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  65536,
			WriteBufferSize: 65536,
			// The browser client is served from a different origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Handler returns the HTTP mux serving the client websocket and the
// Prometheus scrape endpoint.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Gateway: upgrade failed: %v", err)
		return
	}

	sess := newSession(conn, g.link, g.vars, g.met)
	g.register(sess, r.RemoteAddr)
	defer g.release(sess)

	sess.run(r.Context())
}

func (g *Gateway) register(sess *Session, remoteAddr string) {
	g.mu.Lock()
	g.sessions[sess.id] = sess
	count := len(g.sessions)
	g.mu.Unlock()

	ctx := context.Background()
	g.met.SessionOpened(ctx)
	g.vars.Set(ctx, sess.ID(), "connected_at", time.Now().UTC().Format(time.RFC3339))
	g.vars.Set(ctx, sess.ID(), "remote_addr", remoteAddr)

	log.Printf("Session %s: connected from %s (%d active)", sess.id, remoteAddr, count)
}

// release deregisters and closes a session exactly once. The transport may
// signal disconnect more than once; every path after the first is a no-op.
func (g *Gateway) release(sess *Session) {
	sess.once.Do(func() {
		g.mu.Lock()
		delete(g.sessions, sess.id)
		count := len(g.sessions)
		g.mu.Unlock()

		sess.conn.Close()
		sess.stats.Finalize()
		g.met.SessionClosed(context.Background())

		log.Printf("Session %s: disconnected (%d active)\n%s", sess.id, count, sess.stats.Summary())
	})
}

// SessionCount returns the number of connected sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close tears down all active sessions, typically during shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	open := make([]*Session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		open = append(open, sess)
	}
	g.mu.Unlock()

	for _, sess := range open {
		g.release(sess)
	}
}
