package realtime

import (
	"encoding/json"

	"github.com/gogotex/collabdocs/internal/presence"
)

// Message types exchanged over the websocket.
const (
	MsgConnected     = "connected"
	MsgSubscribe     = "subscribe"
	MsgUnsubscribe   = "unsubscribe"
	MsgSubscribed    = "subscribed"
	MsgMemberAdded   = "member_added"
	MsgMemberRemoved = "member_removed"
	MsgEvent         = "event"
	MsgError         = "error"
)

// ClientMessage is a message from client to server.
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type     string            `json:"type"`
	SocketID string            `json:"socketId,omitempty"`
	Channel  string            `json:"channel,omitempty"`
	Event    string            `json:"event,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Member   *presence.Member  `json:"member,omitempty"`
	Members  []presence.Member `json:"members,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
