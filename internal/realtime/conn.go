package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gogotex/collabdocs/internal/presence"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxMsgSize    = 16 * 1024
	authorizeWait = 5 * time.Second
)

// Conn is one authenticated websocket connection. Its ID is the socket id
// clients send back in the X-Socket-ID header to be excluded from the
// notifications their own writes cause.
type Conn struct {
	id   string
	user presence.Member

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newConn(hub *Hub, ws *websocket.Conn, user presence.Member) *Conn {
	return &Conn{
		id:   xid.New().String(),
		user: user,
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, hub.sendBuffer),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) User() presence.Member { return c.user }

// trySend queues msg without blocking. A full buffer drops the message.
func (c *Conn) trySend(msg ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg.Encode():
		return true
	default:
		return false
	}
}

func (c *Conn) sendError(channel, message string) {
	c.trySend(ServerMessage{Type: MsgError, Channel: channel, Message: message})
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump routes client messages until the socket fails, then unregisters.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("socket %s read error: %v", c.id, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		switch msg.Type {
		case MsgSubscribe:
			ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
			if err := c.hub.Subscribe(ctx, c, msg.Channel); err != nil {
				c.sendError(msg.Channel, err.Error())
			}
			cancel()
		case MsgUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
		default:
			c.sendError(msg.Channel, "unknown message type: "+msg.Type)
		}
	}
}

// writePump writes queued messages and keeps the socket alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
