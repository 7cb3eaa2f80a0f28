package forumchat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMessageCap is the MessageList watermark.
	DefaultMessageCap = 500
	// DefaultDuplicateWindow is the createdAt distance under which two
	// messages with equal author and content are the same message.
	DefaultDuplicateWindow = 1000 * time.Millisecond

	unknownUsername = "unknown user"
)

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore is the ordered, capped, deduplicated conversation view.
//
// While a history reconcile is pending, live deliveries are buffered and
// replayed once ReconcileHistory or AbortReconcile runs, so the clear+replay
// of history never races with them.
type MessageStore struct {
	log     *zap.Logger
	metrics *Metrics
	clock   clock
	cap     int
	window  time.Duration

	mu        sync.RWMutex
	messages  []Message
	ids       map[ID]struct{}
	self      ID
	buffering bool
	pending   []Message
}

// NewMessageStore returns an empty store.
func NewMessageStore(opts ...Option) *MessageStore {
	o := buildOptions(opts)
	return &MessageStore{
		log:     o.log.Named("store"),
		metrics: o.metrics,
		clock:   o.clock,
		cap:     DefaultMessageCap,
		window:  DefaultDuplicateWindow,
		ids:     make(map[ID]struct{}),
	}
}

// SetIdentity sets the local user and recomputes IsOwn on every entry.
func (s *MessageStore) SetIdentity(self ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = self
	for i := range s.messages {
		s.messages[i].IsOwn = s.isOwnLocked(s.messages[i])
	}
}

// Insert adds m unless it duplicates an existing entry. It reports whether
// m was appended.
func (s *MessageStore) Insert(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.insertLocked(m)
	s.metrics.stored(len(s.messages))
	return ok
}

// Deliver inserts a live message, or queues it while a reconcile is pending.
// It returns the stored form of m and whether it was appended now.
func (s *MessageStore) Deliver(m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffering {
		s.pending = append(s.pending, m)
		return m, false
	}
	stored, ok := s.insertLocked(m)
	s.metrics.stored(len(s.messages))
	return stored, ok
}

// BeginReconcile starts buffering live deliveries.
func (s *MessageStore) BeginReconcile() {
	s.mu.Lock()
	s.buffering = true
	s.mu.Unlock()
}

// ReconcileHistory replaces the list with items in server order, then
// replays any buffered live messages through the same duplicate check.
func (s *MessageStore) ReconcileHistory(items []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for _, m := range items {
		s.insertLocked(m)
	}
	s.flushLocked()
	s.metrics.stored(len(s.messages))
	s.log.Debug("history reconciled", zap.Int("history", len(items)), zap.Int("stored", len(s.messages)))
}

// AbortReconcile keeps the current list and replays buffered live messages.
func (s *MessageStore) AbortReconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.metrics.stored(len(s.messages))
}

// Clear empties the list and drops any buffered deliveries.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.buffering = false
	s.pending = nil
	s.metrics.stored(0)
}

// Messages returns a copy of the list, oldest first.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MessageStore) resetLocked() {
	s.messages = nil
	s.ids = make(map[ID]struct{})
}

func (s *MessageStore) flushLocked() {
	pending := s.pending
	s.pending = nil
	s.buffering = false
	for _, m := range pending {
		s.insertLocked(m)
	}
}

func (s *MessageStore) insertLocked(m Message) (Message, bool) {
	m = s.normalize(m)
	if s.duplicateLocked(m) {
		s.log.Debug("duplicate message dropped", zap.String("id", string(m.ID)))
		return m, false
	}
	m.IsOwn = s.isOwnLocked(m)
	s.messages = append(s.messages, m)
	s.ids[m.ID] = struct{}{}

	if over := len(s.messages) - s.cap; over > 0 {
		for _, old := range s.messages[:over] {
			delete(s.ids, old.ID)
		}
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
	return m, true
}

func (s *MessageStore) duplicateLocked(m Message) bool {
	if _, ok := s.ids[m.ID]; ok {
		return true
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		e := s.messages[i]
		if e.UserID != m.UserID || e.Content != m.Content {
			continue
		}
		d := e.CreatedAt.Sub(m.CreatedAt.Time)
		if d < 0 {
			d = -d
		}
		if d < s.window {
			return true
		}
	}
	return false
}

func (s *MessageStore) isOwnLocked(m Message) bool {
	return s.self != "" && m.UserID == s.self
}

func (s *MessageStore) normalize(m Message) Message {
	if strings.TrimSpace(m.Username) == "" {
		m.Username = unknownUsername
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Timestamp{s.clock.Now()}
	}
	if m.ID == "" {
		m.ID = placeholderID()
	}
	return m
}

// placeholderID is time-ordered with a random tail.
func placeholderID() ID {
	u, err := uuid.NewV7()
	if err != nil {
		return ID("local-" + uuid.NewString())
	}
	return ID("local-" + u.String())
}

// ============================================================================
// OnlineUserSet
// ============================================================================

// OnlineUserSet holds the server-authoritative online list. It is only ever
// replaced wholesale.
type OnlineUserSet struct {
	mu    sync.RWMutex
	users []OnlineUser
}

// Replace swaps in users.
func (o *OnlineUserSet) Replace(users []OnlineUser) {
	cp := make([]OnlineUser, len(users))
	copy(cp, users)
	o.mu.Lock()
	o.users = cp
	o.mu.Unlock()
}

// Users returns a copy of the current list.
func (o *OnlineUserSet) Users() []OnlineUser {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]OnlineUser, len(o.users))
	copy(out, o.users)
	return out
}

// Count returns the number of online users.
func (o *OnlineUserSet) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.users)
}
