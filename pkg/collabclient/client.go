// Package collabclient is a websocket client for the realtime channel. It
// keeps the view an editor needs: the current document, refreshed by
// DocumentUpdated events, and the active users of every subscribed channel.
package collabclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gogotex/collabdocs/internal/broadcast"
	"github.com/gogotex/collabdocs/internal/document"
	"github.com/gogotex/collabdocs/internal/presence"
	"github.com/gogotex/collabdocs/internal/realtime"
	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("collabclient: connection closed")

const writeWait = 5 * time.Second

// Update is a DocumentUpdated event received on a channel.
type Update struct {
	Channel  string
	Document *document.Document
}

type Client struct {
	ws       *websocket.Conn
	socketID string

	writeMu sync.Mutex

	mu      sync.Mutex
	doc     *document.Document
	rosters map[string]*presence.Tracker
	pending map[string][]chan error
	err     error

	updates   chan Update
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens the socket at url and waits for the server to assign a
// socket id. token is sent as a bearer token.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(dl)
	}
	var hello realtime.ServerMessage
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	ws.SetReadDeadline(time.Time{})
	if hello.Type != realtime.MsgConnected || hello.SocketID == "" {
		ws.Close()
		return nil, fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	c := &Client{
		ws:       ws,
		socketID: hello.SocketID,
		rosters:  make(map[string]*presence.Tracker),
		pending:  make(map[string][]chan error),
		updates:  make(chan Update, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SocketID identifies this connection. Send it as the X-Socket-ID header
// on writes so the server does not echo the update back.
func (c *Client) SocketID() string { return c.socketID }

// Updates delivers DocumentUpdated events. Events are dropped while the
// channel is full. It is closed when the connection ends.
func (c *Client) Updates() <-chan Update { return c.updates }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the connection.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SetDocument replaces the current document view.
func (c *Client) SetDocument(d *document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = d.Clone()
}

// Document returns a copy of the current document view, or nil.
func (c *Client) Document() *document.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc == nil {
		return nil
	}
	return c.doc.Clone()
}

// Members returns the active users of channel, or nil when not subscribed.
func (c *Client) Members(channel string) []presence.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.rosters[channel]; ok {
		return t.Members()
	}
	return nil
}

// Subscribe joins channel and returns once the server has sent its roster.
func (c *Client) Subscribe(ctx context.Context, channel string) error {
	wait := make(chan error, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[channel] = append(c.pending[channel], wait)
	c.mu.Unlock()

	if err := c.send(realtime.ClientMessage{Type: realtime.MsgSubscribe, Channel: channel}); err != nil {
		c.dropPending(channel, wait)
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.dropPending(channel, wait)
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// SubscribeDocument subscribes to the channel of document id.
func (c *Client) SubscribeDocument(ctx context.Context, id string) error {
	return c.Subscribe(ctx, broadcast.DocumentChannel(id))
}

// Unsubscribe leaves channel and forgets its roster.
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.rosters, channel)
	c.mu.Unlock()
	return c.send(realtime.ClientMessage{Type: realtime.MsgUnsubscribe, Channel: channel})
}

// Close sends a close frame and waits for the read loop to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
		<-c.done
	})
	return err
}

func (c *Client) send(msg realtime.ClientMessage) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *Client) dropPending(channel string, wait chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waits := c.pending[channel]
	for i, w := range waits {
		if w == wait {
			waits = append(waits[:i], waits[i+1:]...)
			break
		}
	}
	if len(waits) == 0 {
		delete(c.pending, channel)
	} else {
		c.pending[channel] = waits
	}
}

// resolve answers every Subscribe call waiting on channel.
func (c *Client) resolve(channel string, err error) {
	for _, wait := range c.pending[channel] {
		wait <- err
	}
	delete(c.pending, channel)
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.mu.Lock()
		c.err = readErr
		for channel := range c.pending {
			c.resolve(channel, ErrClosed)
		}
		c.mu.Unlock()
		close(c.updates)
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		var msg realtime.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg realtime.ServerMessage) {
	switch msg.Type {
	case realtime.MsgSubscribed:
		t := presence.New(msg.Channel)
		t.Snapshot(msg.Members)
		c.mu.Lock()
		c.rosters[msg.Channel] = t
		c.resolve(msg.Channel, nil)
		c.mu.Unlock()
	case realtime.MsgMemberAdded, realtime.MsgMemberRemoved:
		if msg.Member == nil {
			return
		}
		c.mu.Lock()
		if t, ok := c.rosters[msg.Channel]; ok {
			if msg.Type == realtime.MsgMemberAdded {
				t.Join(*msg.Member)
			} else {
				t.Leave(*msg.Member)
			}
		}
		c.mu.Unlock()
	case realtime.MsgEvent:
		if msg.Event != broadcast.EventDocumentUpdated {
			return
		}
		var payload struct {
			Document *document.Document `json:"document"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Document == nil {
			return
		}
		c.mu.Lock()
		if c.doc == nil || c.doc.ID == payload.Document.ID {
			c.doc = payload.Document.Clone()
		}
		c.mu.Unlock()
		select {
		case c.updates <- Update{Channel: msg.Channel, Document: payload.Document}:
		default:
		}
	case realtime.MsgError:
		if msg.Channel == "" {
			return
		}
		c.mu.Lock()
		c.resolve(msg.Channel, errors.New(msg.Message))
		c.mu.Unlock()
	}
}
