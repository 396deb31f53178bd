package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/gogotex/collabdocs/internal/document"
)

// EventDocumentUpdated is the event name clients listen for on a document
// channel.
const EventDocumentUpdated = "DocumentUpdated"

const documentChannelPrefix = "document."

// Notification is one event addressed to the members of a channel.
// SocketID names the connection that caused it; that connection is excluded
// from delivery. With no SocketID every connection of Actor is excluded.
type Notification struct {
	Event    string             `json:"event"`
	Channel  string             `json:"channel"`
	SocketID string             `json:"socketId,omitempty"`
	Actor    document.Actor     `json:"actor"`
	Document *document.Document `json:"document"`
}

// Payload is the data object clients receive with the event.
func (n Notification) Payload() map[string]any {
	return map[string]any{"document": n.Document}
}

// DocumentUpdated builds the notification sent after an update commits.
func DocumentUpdated(actor document.Actor, d *document.Document, socketID string) Notification {
	return Notification{
		Event:    EventDocumentUpdated,
		Channel:  DocumentChannel(d.ID),
		SocketID: socketID,
		Actor:    actor,
		Document: d,
	}
}

// Publisher hands notifications to the realtime transport. Delivery is best
// effort and at most once.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Deliverer fans a notification out to the connections subscribed to its
// channel in this process and reports how many were reached.
type Deliverer interface {
	Deliver(n Notification) int
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }

// Error reports a notification that could not be handed to the transport.
// The write that produced it has already committed.
type Error struct {
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broadcast %s: %v", e.Channel, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func DocumentChannel(documentID string) string {
	return documentChannelPrefix + documentID
}

// ParseDocumentChannel returns the document id of a "document.{id}" channel.
func ParseDocumentChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, documentChannelPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
