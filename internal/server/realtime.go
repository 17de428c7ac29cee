package server

import (
	"context"
	"sync"

	"github.com/MeetModi24/notesync/backend/internal/notes"
)

const realtimeBufferSize = 16

// Dispatcher fans note events out to live sessions. Sessions subscribe to
// their user's personal channel and, explicitly, to individual note rooms;
// holding access to a note never subscribes a session by itself. Delivery is
// at most once per connected session: a full buffer drops the event and
// offline sessions receive nothing.
type Dispatcher struct {
	mu        sync.RWMutex
	userRooms map[string]map[int64]*realtimeSubscriber
	noteRooms map[string]map[int64]*realtimeSubscriber
	nextID    int64
}

type realtimeSubscriber struct {
	id     int64
	stream chan notes.Event
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		userRooms: make(map[string]map[int64]*realtimeSubscriber),
		noteRooms: make(map[string]map[int64]*realtimeSubscriber),
	}
}

// SubscribeUser joins the user's personal channel until ctx is done or the
// returned cleanup runs.
func (d *Dispatcher) SubscribeUser(ctx context.Context, userID string) (<-chan notes.Event, func()) {
	return d.subscribe(ctx, d.userRooms, userID)
}

// SubscribeDocument joins a note's room. Authorization is the caller's
// responsibility; the dispatcher only moves events.
func (d *Dispatcher) SubscribeDocument(ctx context.Context, noteID string) (<-chan notes.Event, func()) {
	return d.subscribe(ctx, d.noteRooms, noteID)
}

// NotifyUser delivers to every session on the user's personal channel.
func (d *Dispatcher) NotifyUser(userID string, event notes.Event) {
	d.publish(d.userRooms, userID, event)
}

// NotifyDocument delivers to every session that joined the note's room.
func (d *Dispatcher) NotifyDocument(noteID string, event notes.Event) {
	d.publish(d.noteRooms, noteID, event)
}

func (d *Dispatcher) subscribe(ctx context.Context, rooms map[string]map[int64]*realtimeSubscriber, key string) (<-chan notes.Event, func()) {
	if key == "" {
		ch := make(chan notes.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{stream: make(chan notes.Event, realtimeBufferSize)}

	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := rooms[key]; !ok {
		rooms[key] = make(map[int64]*realtimeSubscriber)
	}
	rooms[key][subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		if members := rooms[key]; members != nil {
			delete(members, subscriber.id)
			if len(members) == 0 {
				delete(rooms, key)
			}
		}
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *Dispatcher) publish(rooms map[string]map[int64]*realtimeSubscriber, key string, event notes.Event) {
	if key == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	members := rooms[key]
	if len(members) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(members))
	for _, subscriber := range members {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}
