// Package notify computes who hears about a note mutation and emits the
// corresponding events to the transport layer.
package notify

import (
	"context"
	"log"
)

// Channel names understood by the transport layer: one room per note, one
// per user, plus a broadcast channel for list views.
const ChannelBroadcast = "broadcast"

func NoteChannel(noteID string) string { return "note:" + noteID }
func UserChannel(userID string) string { return "user:" + userID }

// Event names exposed to clients. Exact strings matter for compatibility.
const (
	EventNotesListUpdated         = "notesListUpdated"
	EventNoteDetailsUpdated       = "noteDetailsUpdated"
	EventNoteEditFinishedByOther  = "noteEditFinishedByOtherUser"
	EventNoteUpdateSuccess        = "noteUpdateSuccess"
	EventNotifyNoteUpdatedByOther = "notifyNoteUpdatedByOther"
	EventNewSharedNote            = "newSharedNote"
	EventYourShareRoleUpdated     = "yourShareRoleUpdated"
	EventNoteSharingConfirmation  = "noteSharingConfirmation"
	EventNoteUnshared             = "noteUnshared"
	EventNoteDeleted              = "noteDeleted"
)

// Event is one message addressed to one channel.
type Event struct {
	Channel string
	Name    string
	Payload map[string]any
}

// EventBus pushes an event to every client subscribed to a channel.
type EventBus interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Publisher fans a batch of events out over the bus. The bus is
// fire-and-forget: the enclosing mutation has already been persisted, so a
// publish failure is logged and swallowed. A missed notification is
// recovered by the client's next refresh, not by failing the request.
type Publisher struct {
	bus EventBus
}

func NewPublisher(bus EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) PublishAll(ctx context.Context, events []Event) {
	if p == nil || p.bus == nil {
		return
	}
	for _, event := range events {
		if err := p.bus.Publish(ctx, event.Channel, event.Name, event.Payload); err != nil {
			log.Printf("notify: publish %s to %s: %v", event.Name, event.Channel, err)
		}
	}
}
