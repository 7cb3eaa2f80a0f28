package forumchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHistoryPageSize is the number of messages loaded on connect.
	DefaultHistoryPageSize = 50
	// DefaultSwitchDelay separates a disconnect from the follow-up connect
	// when the session is restarted for another user.
	DefaultSwitchDelay = 1000 * time.Millisecond

	defaultHistoryTimeout = 15 * time.Second
)

// HistoryFetcher loads a page of chat history. ChatAPI implements it.
type HistoryFetcher interface {
	GetMessages(ctx context.Context, page, pageSize int, before string) (*HistoryPage, error)
}

// ============================================================================
// ChatSession
// ============================================================================

// ChatSession is the chat-room view: it drives the ConnectionManager on
// behalf of the local user, reconciles history with the live stream, tracks
// presence and filters outbound sends.
type ChatSession struct {
	conn     *ConnectionManager
	history  HistoryFetcher
	identity Identity
	store    *MessageStore
	online   OnlineUserSet
	dedup    *OutboundDeduplicator
	notifier Notifier
	log      *zap.Logger
	clock    clock

	pageSize    int
	switchDelay time.Duration

	mu            sync.Mutex
	gen           uint64
	connected     bool
	loading       bool
	unsubscribe   []func()
	switchTimer   timer
	cancelHistory context.CancelFunc
	messageHook   func(Message)
	historyHook   func([]Message)
}

// NewChatSession composes a chat-room view over conn.
func NewChatSession(conn *ConnectionManager, history HistoryFetcher, identity Identity, opts ...Option) *ChatSession {
	o := buildOptions(opts)
	store := NewMessageStore(opts...)
	store.SetIdentity(identity.UserID())
	return &ChatSession{
		conn:        conn,
		history:     history,
		identity:    identity,
		store:       store,
		dedup:       NewOutboundDeduplicator(conn, opts...),
		notifier:    o.notifier,
		log:         o.log.Named("chat"),
		clock:       o.clock,
		pageSize:    o.pageSize,
		switchDelay: DefaultSwitchDelay,
	}
}

// OnMessage registers fn to receive each live message once it is stored.
func (s *ChatSession) OnMessage(fn func(Message)) {
	s.mu.Lock()
	s.messageHook = fn
	s.mu.Unlock()
}

// OnHistory registers fn to receive the full list after each reconcile.
func (s *ChatSession) OnHistory(fn func([]Message)) {
	s.mu.Lock()
	s.historyHook = fn
	s.mu.Unlock()
}

// Connect joins the chat room as the current identity. If a session is
// already up it is torn down and a new one starts after the switch delay.
func (s *ChatSession) Connect() error {
	id := s.identity.UserID()
	if id == "" {
		safeNotify(s.notifier, s.log, "Please log in first", SeverityWarning)
		return ErrNotLoggedIn
	}

	if s.Connected() {
		s.log.Info("restarting chat session", zap.String("user_id", string(id)))
		s.Disconnect()
		s.connectLater()
		return nil
	}

	s.mu.Lock()
	stopTimer(&s.switchTimer)
	s.registerLocked(s.gen)
	s.mu.Unlock()

	s.store.SetIdentity(id)
	s.store.BeginReconcile()
	s.conn.Connect(string(id))
	return nil
}

// Disconnect leaves the chat room and drops all local state.
func (s *ChatSession) Disconnect() {
	s.mu.Lock()
	s.gen++
	stopTimer(&s.switchTimer)
	if s.cancelHistory != nil {
		s.cancelHistory()
		s.cancelHistory = nil
	}
	s.removeListenersLocked()
	s.connected = false
	s.loading = false
	s.mu.Unlock()

	s.conn.Disconnect()
	s.store.Clear()
	s.online.Replace(nil)
	s.dedup.Reset()
}

// OnIdentityChanged is called by the identity owner after a login, logout
// or account switch.
func (s *ChatSession) OnIdentityChanged(oldID, newID ID) {
	s.store.SetIdentity(newID)
	if newID == "" {
		s.log.Info("user logged out, leaving chat")
		s.Disconnect()
		return
	}
	if oldID != newID && s.Connected() {
		s.log.Info("user changed, reconnecting", zap.String("user_id", string(newID)))
		s.Disconnect()
		s.connectLater()
	}
}

// Send publishes content to the room.
func (s *ChatSession) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if !s.Connected() {
		safeNotify(s.notifier, s.log, "Connection not established, please try again later", SeverityWarning)
		return ErrNotReady
	}
	return s.dedup.TrySend(ctx, content)
}

// Messages returns the conversation, oldest first.
func (s *ChatSession) Messages() []Message { return s.store.Messages() }

// OnlineUsers returns the last server-reported online list.
func (s *ChatSession) OnlineUsers() []OnlineUser { return s.online.Users() }

// OnlineCount returns len(OnlineUsers()).
func (s *ChatSession) OnlineCount() int { return s.online.Count() }

// Status returns the transport's tri-state connectivity.
func (s *ChatSession) Status() Status { return s.conn.Status() }

// Connected reports whether the connected event has been seen for the
// current session.
func (s *ChatSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Loading reports whether a history load is in flight.
func (s *ChatSession) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// ============================================================================
// Event handlers
// ============================================================================

func (s *ChatSession) registerLocked(gen uint64) {
	s.removeListenersLocked()
	bus := s.conn.Events()
	s.unsubscribe = append(s.unsubscribe,
		bus.OnConnected(func() { s.onConnected(gen) }),
		bus.OnDisconnected(func(err error) { s.onDisconnected(gen, err) }),
		bus.OnReconnecting(func(ev ReconnectingEvent) {
			s.log.Info("reconnecting", zap.Int("attempt", ev.Attempt), zap.Duration("delay", ev.Delay))
		}),
		bus.OnMessage(func(m Message) { s.onMessage(gen, m) }),
		bus.OnUserJoined(func(ev PresenceEvent) { s.onPresence(gen, ev) }),
		bus.OnUserLeft(func(ev PresenceEvent) { s.onPresence(gen, ev) }),
		bus.OnOnlineUsers(func(users []OnlineUser) { s.onOnlineUsers(gen, users) }),
		bus.OnError(func(ev ErrorEvent) {
			s.log.Warn("chat error", zap.String("message", ev.Message), zap.Error(ev.Err))
		}),
	)
}

func (s *ChatSession) removeListenersLocked() {
	for _, off := range s.unsubscribe {
		off()
	}
	s.unsubscribe = nil
}

func (s *ChatSession) onConnected(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.loading = true
	if s.cancelHistory != nil {
		s.cancelHistory()
	}
	s.store.BeginReconcile()
	ctx, cancel := context.WithTimeout(context.Background(), defaultHistoryTimeout)
	s.cancelHistory = cancel
	s.mu.Unlock()

	safeNotify(s.notifier, s.log, "Connected to chat room", SeveritySuccess)
	go s.loadHistory(ctx, cancel, gen)
}

func (s *ChatSession) loadHistory(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()
	page, err := s.history.GetMessages(ctx, 1, s.pageSize, "")
	if err == nil && page == nil {
		err = fmt.Errorf("empty history response")
	}

	s.mu.Lock()
	if gen != s.gen || ctx.Err() == context.Canceled {
		s.mu.Unlock()
		return
	}
	s.loading = false
	s.cancelHistory = nil
	if err != nil {
		s.log.Warn("load history failed", zap.Error(err))
		s.store.AbortReconcile()
	} else {
		s.store.ReconcileHistory(page.List)
		s.log.Info("history loaded", zap.Int("count", len(page.List)))
	}
	hook := s.historyHook
	s.mu.Unlock()

	if hook != nil {
		hook(s.store.Messages())
	}
}

func (s *ChatSession) onDisconnected(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.connected = false
	s.loading = false
	// A load started for the lost session must not end the buffering below.
	if s.cancelHistory != nil {
		s.cancelHistory()
		s.cancelHistory = nil
	}
	// Deliveries until the next reconcile are held back.
	s.store.BeginReconcile()
	s.log.Info("chat disconnected", zap.Error(err))
}

func (s *ChatSession) onMessage(gen uint64, m Message) {
	if m.Content == "" {
		s.log.Warn("dropping message without content", zap.String("id", string(m.ID)))
		return
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	stored, ok := s.store.Deliver(m)
	hook := s.messageHook
	s.mu.Unlock()

	if ok && hook != nil {
		hook(stored)
	}
}

func (s *ChatSession) onPresence(gen uint64, ev PresenceEvent) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}
	if ev.UserID != s.identity.UserID() {
		verb := "left"
		if ev.Joined {
			verb = "joined"
		}
		safeNotify(s.notifier, s.log, fmt.Sprintf("%s %s the chat room", ev.Username, verb), SeverityInfo)
	}
	s.online.Replace(ev.Users)
}

func (s *ChatSession) onOnlineUsers(gen uint64, users []OnlineUser) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if !stale {
		s.online.Replace(users)
	}
}

// connectLater reconnects after the switch delay unless another Disconnect
// or Connect supersedes it.
func (s *ChatSession) connectLater() {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.gen
	stopTimer(&s.switchTimer)
	s.switchTimer = s.clock.AfterFunc(s.switchDelay, func() {
		s.mu.Lock()
		stale := gen != s.gen
		if !stale {
			s.switchTimer = nil
		}
		s.mu.Unlock()
		if stale || s.identity.UserID() == "" {
			return
		}
		if err := s.Connect(); err != nil {
			s.log.Warn("reconnect after switch failed", zap.Error(err))
		}
	})
}
