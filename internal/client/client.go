// Package client implements the headless capture client: it streams frames
// from a source to the gateway at the capture cadence and feeds the
// prediction stream into a result stabilizer.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amanullahtanweer/sign-relay/internal/frames"
	"github.com/amanullahtanweer/sign-relay/internal/stabilizer"
)

// Client-side view of the gateway wire protocol.
type gatewayEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type predictionPayload struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Config for a capture client.
type Config struct {
	GatewayURL      string
	CaptureInterval time.Duration // default 100ms, the nominal 10 fps cadence
}

// Client streams frames for one session.
type Client struct {
	cfg  Config
	src  frames.Source
	stab *stabilizer.Stabilizer
}

func New(cfg Config, src frames.Source, stab *stabilizer.Stabilizer) *Client {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = 100 * time.Millisecond
	}
	return &Client{cfg: cfg, src: src, stab: stab}
}

// Run connects to the gateway and relays frames until ctx is canceled or
// the connection drops.
func (c *Client) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer conn.Close()

	errs := make(chan error, 2)
	go func() { errs <- c.readPredictions(conn) }()
	go func() { errs <- c.sendFrames(ctx, conn) }()

	select {
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	case err := <-errs:
		return err
	}
}

func (c *Client) sendFrames(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.CaptureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		payload, err := c.src.Next(ctx)
		if err != nil {
			return fmt.Errorf("frame source: %w", err)
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := conn.WriteJSON(gatewayEvent{Event: "frame", Data: data}); err != nil {
			return fmt.Errorf("failed to send frame: %w", err)
		}
	}
}

func (c *Client) readPredictions(conn *websocket.Conn) error {
	for {
		var ev gatewayEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("gateway connection lost: %w", err)
		}
		if ev.Event != "prediction" {
			continue
		}

		var p predictionPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("Client: malformed prediction payload: %v", err)
			continue
		}
		if p.Error != "" {
			log.Printf("Client: prediction error: %s", p.Error)
		}
		c.stab.Push(p.Text, p.Error)
	}
}
