package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amanullahtanweer/sign-relay/internal/inference"
	"github.com/amanullahtanweer/sign-relay/internal/observe"
	"github.com/amanullahtanweer/sign-relay/internal/sessionvars"
)

// clientEvent is the envelope for messages on the client websocket.
type clientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// predictionPayload is the outcome delivered for every accepted frame:
// either a label or an explicit error, never silence.
type predictionPayload struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Session relays frames from one client to the shared inference link and
// returns a typed prediction event per frame.
type Session struct {
	id    uuid.UUID
	conn  *websocket.Conn
	link  *inference.Link
	vars  *sessionvars.Store
	met   *observe.Metrics
	stats *Stats

	writeMu sync.Mutex
	once    sync.Once
}

func newSession(conn *websocket.Conn, link *inference.Link, vars *sessionvars.Store, met *observe.Metrics) *Session {
	id := uuid.New()
	return &Session{
		id:    id,
		conn:  conn,
		link:  link,
		vars:  vars,
		met:   met,
		stats: NewStats(id.String()),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// run serves the session until the client disconnects. A malformed message
// never terminates the session; it is logged and the next message is read.
func (s *Session) run(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Session %s: read error: %v", s.id, err)
			}
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("Session %s: malformed message: %v", s.id, err)
			continue
		}

		switch ev.Event {
		case "frame":
			s.handleFrame(ctx, ev.Data)
		default:
			log.Printf("Session %s: unknown event %q", s.id, ev.Event)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, raw json.RawMessage) {
	var frame string
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("Session %s: malformed frame payload: %v", s.id, err)
		return
	}

	s.stats.AddFrame(len(frame))
	s.vars.Incr(ctx, s.ID(), "frames")

	start := time.Now()
	pred, err := s.link.Submit(ctx, frame)
	elapsed := time.Since(start)

	if err != nil {
		s.stats.AddResult("", false)
		s.met.RecordFrame(ctx, "error", elapsed.Seconds())
		if werr := s.sendPrediction("", err.Error()); werr != nil {
			log.Printf("Session %s: failed to deliver error prediction: %v", s.id, werr)
		}
		return
	}

	s.stats.AddResult(pred.Text, true)
	s.met.RecordFrame(ctx, "ok", elapsed.Seconds())
	s.vars.Set(ctx, s.ID(), "last_text", pred.Text)
	if werr := s.sendPrediction(pred.Text, ""); werr != nil {
		log.Printf("Session %s: failed to deliver prediction: %v", s.id, werr)
	}
}

func (s *Session) sendPrediction(text, errMsg string) error {
	data, err := json.Marshal(predictionPayload{Text: text, Error: errMsg})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(clientEvent{Event: "prediction", Data: data})
}
