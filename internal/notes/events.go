package notes

import (
	"context"
	"time"
)

// Event types fanned out to subscribed sessions.
const (
	EventNoteCreated   = "note-created"
	EventNoteUpdated   = "note-updated"
	EventNoteDeleted   = "note-deleted"
	EventAccessGranted = "access-granted"
	EventAccessRevoked = "access-revoked"
)

// Event is the payload delivered to live sessions. Delivery is best-effort,
// at most once per connected session; offline sessions learn about missed
// changes through their own resync.
type Event struct {
	Type      string
	NoteID    string
	ActorID   string
	Note      *Note
	Timestamp time.Time
}

// Fanout pushes events to live sessions. It is handed to the engine as an
// explicit capability so the engine stays testable without a transport.
type Fanout interface {
	// NotifyUser delivers to every session on the user's personal channel.
	NotifyUser(userID string, event Event)
	// NotifyDocument delivers to every session that joined the note's channel.
	NotifyDocument(noteID string, event Event)
}

// NopFanout drops every event.
type NopFanout struct{}

func (NopFanout) NotifyUser(string, Event)     {}
func (NopFanout) NotifyDocument(string, Event) {}

// Invalidator purges cached read views for a set of users. The engine awaits
// it before reporting any mutation ok.
type Invalidator interface {
	Invalidate(ctx context.Context, userIDs []string) error
}

// NopInvalidator tracks nothing and purges nothing.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(context.Context, []string) error { return nil }
