package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/peer-signaling/internal/logging"
	"github.com/mossy-p/peer-signaling/internal/models"
	"github.com/mossy-p/peer-signaling/internal/presence"
	"github.com/mossy-p/peer-signaling/internal/relay"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameBytes  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Hub connects WebSocket clients to the presence directory and the relay.
type Hub struct {
	directory *presence.Directory
	relay     *relay.Relay
}

func NewHub(directory *presence.Directory, r *relay.Relay) *Hub {
	return &Hub{directory: directory, relay: r}
}

// Client represents a WebSocket client connection
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *Client) ID() string { return c.id }

// Deliver queues a frame for the write pump. It never blocks and never
// panics on a closed client.
func (c *Client) Deliver(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// HandleSignaling upgrades the request and serves one party until it
// disconnects.
func (h *Hub) HandleSignaling(c *gin.Context) {
	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn("failed to upgrade connection: %v", err)
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	logging.Info("connection %s opened from %s", client.id, c.Request.RemoteAddr)

	h.directory.Attach(client)

	go client.writePump()
	h.readPump(client)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.directory.Detach(c.id)
		c.close()
		logging.Info("connection %s closed", c.id)
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("connection %s read error: %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			logging.Warn("connection %s sent non-text frame, skipping", c.id)
			continue
		}
		h.dispatch(c, frame)
	}
}

func (h *Hub) dispatch(c *Client, frame []byte) {
	env, err := models.DecodeEnvelope(frame)
	if err != nil {
		logging.Warn("dropping message from %s: %v", c.id, err)
		return
	}

	switch {
	case env.Type == models.EventLogin:
		login, err := env.Login()
		if err != nil {
			logging.Warn("dropping login from %s: %v", c.id, err)
			return
		}
		if _, err := h.directory.Register(c.id, login.LoginName); err != nil {
			logging.Warn("rejecting login %q from %s: %v", login.LoginName, c.id, err)
		}

	case env.Type.IsSignaling():
		if err := h.relay.Route(env); err != nil && !errors.Is(err, relay.ErrRouteNotFound) {
			logging.Warn("dropping %s from %s: %v", env.Type, c.id, err)
		}

	default:
		logging.Warn("unknown message type %q from %s", env.Type, c.id)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Warn("failed to write to %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
