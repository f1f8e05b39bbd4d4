// Package signaling is the peer side of the relay connection: it logs in,
// receives roster updates and carries negotiation messages.
package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
)

const writeWait = 10 * time.Second

// Handlers receive decoded inbound messages on the Listen goroutine.
type Handlers struct {
	Roster func(entries []models.RosterEntry)
	Signal func(env models.Envelope)
}

// Client is a WebSocket connection to the relay. Send is safe for
// concurrent use.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the relay's WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one envelope to the relay.
func (c *Client) Send(env models.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Type, err)
	}
	return nil
}

// Login registers name as this connection's display name.
func (c *Client) Login(name string) error {
	env, err := models.NewEnvelope(models.EventLogin, models.LoginPayload{LoginName: name})
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Listen reads from the relay until the connection fails or ctx is
// cancelled. Malformed and unknown messages are dropped.
func (c *Client) Listen(ctx context.Context, h Handlers) error {
	stop := context.AfterFunc(ctx, func() {
		c.conn.Close()
	})
	defer stop()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read from relay: %w", err)
		}

		env, err := models.DecodeEnvelope(frame)
		if err != nil {
			logging.Warn("dropping message from relay: %v", err)
			continue
		}

		switch {
		case env.Type == models.EventUpdateUsers:
			entries, err := env.Roster()
			if err != nil {
				logging.Warn("dropping roster update: %v", err)
				continue
			}
			if h.Roster != nil {
				h.Roster(entries)
			}

		case env.Type.IsSignaling():
			if h.Signal != nil {
				h.Signal(env)
			}

		default:
			logging.Warn("unknown message type %q from relay", env.Type)
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}
