package forumchat

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Event Variants
// ============================================================================

// EventKind enumerates everything the bus can carry.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventReconnecting
	EventMessage
	EventUserJoined
	EventUserLeft
	EventOnlineUsers
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventMessage:
		return "message"
	case EventUserJoined:
		return "user_joined"
	case EventUserLeft:
		return "user_left"
	case EventOnlineUsers:
		return "online_users"
	case EventError:
		return "error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is implemented only by the variants below.
type Event interface {
	Kind() EventKind
}

// ConnectedEvent fires once the topic subscription has settled.
type ConnectedEvent struct{}

// DisconnectedEvent fires when a connected session's transport closes.
type DisconnectedEvent struct {
	Err error
}

// ReconnectingEvent fires each time a retry is scheduled.
type ReconnectingEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// MessageEvent carries a decoded chat message as sent by the server.
type MessageEvent struct {
	Message Message
}

// PresenceEvent carries the acting user and the full refreshed online set.
type PresenceEvent struct {
	Joined   bool
	UserID   ID
	Username string
	Users    []OnlineUser
}

// OnlineUsersEvent carries the full online set.
type OnlineUsersEvent struct {
	Users []OnlineUser
}

// ErrorEvent carries a server error envelope or a transport protocol error.
type ErrorEvent struct {
	Message string
	Err     error
}

func (ConnectedEvent) Kind() EventKind    { return EventConnected }
func (DisconnectedEvent) Kind() EventKind { return EventDisconnected }
func (ReconnectingEvent) Kind() EventKind { return EventReconnecting }
func (MessageEvent) Kind() EventKind      { return EventMessage }
func (OnlineUsersEvent) Kind() EventKind  { return EventOnlineUsers }
func (ErrorEvent) Kind() EventKind        { return EventError }

func (e PresenceEvent) Kind() EventKind {
	if e.Joined {
		return EventUserJoined
	}
	return EventUserLeft
}

// ============================================================================
// Event Bus
// ============================================================================

// EventHandler is the generic listener signature.
type EventHandler func(Event)

type listener struct {
	id uint64
	fn EventHandler
}

// EventBus is a synchronous publish/subscribe register keyed by EventKind.
// Listeners run on the emitting goroutine in registration order.
type EventBus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventKind][]listener
	log       *zap.Logger
	metrics   *Metrics
}

// NewEventBus returns an empty bus. log may be nil.
func NewEventBus(log *zap.Logger, metrics *Metrics) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{
		listeners: make(map[EventKind][]listener),
		log:       log,
		metrics:   metrics,
	}
}

// On appends fn to kind's listeners. The returned function removes exactly
// this registration and is safe to call more than once.
func (b *EventBus) On(kind EventKind, fn EventHandler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[kind] = append(b.listeners[kind], listener{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(kind, id) })
	}
}

func (b *EventBus) off(kind EventKind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[kind]
	for i, l := range ls {
		if l.id == id {
			b.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit invokes every listener for ev.Kind(). A panicking listener is logged
// and skipped; it never reaches the caller.
func (b *EventBus) Emit(ev Event) {
	kind := ev.Kind()
	b.mu.RLock()
	handlers := append([]listener(nil), b.listeners[kind]...)
	b.mu.RUnlock()

	for _, l := range handlers {
		b.invoke(kind, l.fn, ev)
	}
}

func (b *EventBus) invoke(kind EventKind, fn EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.listenerPanic()
			b.log.Error("event listener panicked",
				zap.Stringer("event", kind),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// Clear drops every listener.
func (b *EventBus) Clear() {
	b.mu.Lock()
	b.listeners = make(map[EventKind][]listener)
	b.mu.Unlock()
}

// Len returns the number of listeners registered for kind.
func (b *EventBus) Len(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[kind])
}

// ============================================================================
// Typed registration helpers
// ============================================================================

// OnConnected registers a handler for the connected event.
func (b *EventBus) OnConnected(h func()) func() {
	return b.On(EventConnected, func(Event) { h() })
}

// OnDisconnected registers a handler for the disconnected event.
func (b *EventBus) OnDisconnected(h func(err error)) func() {
	return b.On(EventDisconnected, func(ev Event) { h(ev.(DisconnectedEvent).Err) })
}

// OnReconnecting registers a handler for retry scheduling.
func (b *EventBus) OnReconnecting(h func(ReconnectingEvent)) func() {
	return b.On(EventReconnecting, func(ev Event) { h(ev.(ReconnectingEvent)) })
}

// OnMessage registers a handler for inbound chat messages.
func (b *EventBus) OnMessage(h func(Message)) func() {
	return b.On(EventMessage, func(ev Event) { h(ev.(MessageEvent).Message) })
}

// OnUserJoined registers a handler for user_joined.
func (b *EventBus) OnUserJoined(h func(PresenceEvent)) func() {
	return b.On(EventUserJoined, func(ev Event) { h(ev.(PresenceEvent)) })
}

// OnUserLeft registers a handler for user_left.
func (b *EventBus) OnUserLeft(h func(PresenceEvent)) func() {
	return b.On(EventUserLeft, func(ev Event) { h(ev.(PresenceEvent)) })
}

// OnOnlineUsers registers a handler for online_users.
func (b *EventBus) OnOnlineUsers(h func([]OnlineUser)) func() {
	return b.On(EventOnlineUsers, func(ev Event) { h(ev.(OnlineUsersEvent).Users) })
}

// OnError registers a handler for server and protocol errors.
func (b *EventBus) OnError(h func(ErrorEvent)) func() {
	return b.On(EventError, func(ev Event) { h(ev.(ErrorEvent)) })
}
