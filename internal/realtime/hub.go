package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gogotex/collabdocs/internal/broadcast"
	"github.com/gogotex/collabdocs/internal/presence"
	"github.com/gogotex/collabdocs/pkg/logger"
	"github.com/gogotex/collabdocs/pkg/metrics"
)

var ErrForbidden = errors.New("channel subscription not allowed")

// Authorizer decides whether user may subscribe to channel.
type Authorizer func(ctx context.Context, user presence.Member, channel string) error

// Hub tracks the connections of this process, their channel subscriptions
// and the presence roster of every channel. A user with several
// connections on a channel is one roster member.
type Hub struct {
	authorize  Authorizer
	sendBuffer int

	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]map[string]*Conn
	rosters  map[string]*presence.Tracker
	refs     map[string]map[string]int
}

func NewHub(authorize Authorizer, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		authorize:  authorize,
		sendBuffer: sendBuffer,
		conns:      make(map[string]*Conn),
		channels:   make(map[string]map[string]*Conn),
		rosters:    make(map[string]*presence.Tracker),
		refs:       make(map[string]map[string]int),
	}
}

// Register adds c and tells the client its socket id.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	metrics.WebsocketConnections.Inc()
	c.trySend(ServerMessage{Type: MsgConnected, SocketID: c.id})
}

// Unregister leaves every channel c is on and closes its send queue.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	for channel, subs := range h.channels {
		if _, ok := subs[c.id]; ok {
			h.leaveLocked(c, channel)
		}
	}
	h.mu.Unlock()
	metrics.WebsocketConnections.Dec()
	c.close()
}

// Subscribe puts c on channel and sends it the current roster. Other
// members are told about the user when this is its first connection on
// the channel.
func (h *Hub) Subscribe(ctx context.Context, c *Conn, channel string) error {
	if _, ok := broadcast.ParseDocumentChannel(channel); !ok {
		return ErrForbidden
	}
	if h.authorize != nil {
		if err := h.authorize(ctx, c.user, channel); err != nil {
			return err
		}
	}

	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return errors.New("connection closed")
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[string]*Conn)
		h.channels[channel] = subs
		h.rosters[channel] = presence.New(channel)
		h.refs[channel] = make(map[string]int)
	}
	if _, already := subs[c.id]; !already {
		subs[c.id] = c
		h.refs[channel][c.user.ID]++
		if h.rosters[channel].Join(c.user) {
			metrics.PresenceMembers.Inc()
			member := c.user
			for id, other := range subs {
				if id != c.id {
					other.trySend(ServerMessage{Type: MsgMemberAdded, Channel: channel, Member: &member})
				}
			}
		}
	}
	// queued under mu so no member event for channel can precede the roster
	c.trySend(ServerMessage{Type: MsgSubscribed, Channel: channel, Members: h.rosters[channel].Members()})
	h.mu.Unlock()
	return nil
}

func (h *Hub) Unsubscribe(c *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel][c.id]; ok {
		h.leaveLocked(c, channel)
	}
}

func (h *Hub) leaveLocked(c *Conn, channel string) {
	subs := h.channels[channel]
	delete(subs, c.id)
	refs := h.refs[channel]
	refs[c.user.ID]--
	if refs[c.user.ID] <= 0 {
		delete(refs, c.user.ID)
		if h.rosters[channel].Leave(c.user) {
			metrics.PresenceMembers.Dec()
			member := c.user
			for _, other := range subs {
				other.trySend(ServerMessage{Type: MsgMemberRemoved, Channel: channel, Member: &member})
			}
		}
	}
	if len(subs) == 0 {
		delete(h.channels, channel)
		delete(h.rosters, channel)
		delete(h.refs, channel)
	}
}

// Deliver sends n to the subscribers of its channel, skipping the
// originating connection. Without a socket id every connection of the
// acting user is skipped. Slow connections drop the message.
func (h *Hub) Deliver(n broadcast.Notification) int {
	data, err := json.Marshal(n.Payload())
	if err != nil {
		logger.Errorf("encode %s for %s: %v", n.Event, n.Channel, err)
		metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
		return 0
	}
	msg := ServerMessage{Type: MsgEvent, Channel: n.Channel, Event: n.Event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for id, c := range h.channels[n.Channel] {
		if n.SocketID != "" && id == n.SocketID {
			continue
		}
		if n.SocketID == "" && c.user.ID == n.Actor.ID {
			continue
		}
		if c.trySend(msg) {
			sent++
			metrics.BroadcastDeliveries.WithLabelValues("sent").Inc()
		} else {
			metrics.BroadcastDeliveries.WithLabelValues("dropped").Inc()
		}
	}
	return sent
}

// Publish delivers in process. It serves single-process deployments.
func (h *Hub) Publish(_ context.Context, n broadcast.Notification) error {
	h.Deliver(n)
	return nil
}

// Members returns the roster of channel in join order.
func (h *Hub) Members(channel string) []presence.Member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rosters[channel]; ok {
		return r.Members()
	}
	return nil
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
