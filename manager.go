package forumchat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

const (
	DefaultChatPath        = "/api/chat/ws"
	DefaultTopic           = "/topic/chat"
	DefaultSendDestination = "/app/chat/message"
)

// RealtimeConfig configures the ConnectionManager.
type RealtimeConfig struct {
	// BaseURL is the http(s) origin of the chat server.
	BaseURL              string
	Path                 string
	Topic                string
	SendDestination      string
	Heartbeat            Heartbeat
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// SettleDelay separates subscribing from emitting the connected event.
	SettleDelay time.Duration
	DialTimeout time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = DefaultChatPath
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.SendDestination == "" {
		c.SendDestination = DefaultSendDestination
	}
	if c.Heartbeat.Incoming == 0 {
		c.Heartbeat.Incoming = 4000 * time.Millisecond
	}
	if c.Heartbeat.Outgoing == 0 {
		c.Heartbeat.Outgoing = 4000 * time.Millisecond
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3000 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = 100 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// ConnState is the manager's lifecycle state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Status is the coarse connectivity view.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusConnecting   Status = "connecting"
	StatusDisconnected Status = "disconnected"
)

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns the single transport session: connect, disconnect,
// bounded reconnection, the topic subscription and inbound decoding.
// Transport failures are handled internally and reported through the EventBus.
type ConnectionManager struct {
	config   *RealtimeConfig
	dialer   Dialer
	bus      *EventBus
	policy   *reconnectPolicy
	notifier Notifier
	log      *zap.Logger
	metrics  *Metrics
	clock    clock

	mu          sync.Mutex
	subs        subscriptionRegistry
	state       ConnState
	session     Session
	credential  string
	epoch       uint64
	retryTimer  timer
	settleTimer timer
	cancelDial  context.CancelFunc
}

// NewConnectionManager creates a manager in the Disconnected state. Call
// Connect to establish a session.
func NewConnectionManager(config *RealtimeConfig, dialer Dialer, opts ...Option) *ConnectionManager {
	cfg := *config
	cfg.defaults()
	o := buildOptions(opts)
	return &ConnectionManager{
		config:   &cfg,
		dialer:   dialer,
		bus:      NewEventBus(o.log, o.metrics),
		policy:   newReconnectPolicy(&cfg),
		notifier: o.notifier,
		log:      o.log.Named("conn"),
		metrics:  o.metrics,
		clock:    o.clock,
		state:    StateDisconnected,
	}
}

// Events returns the bus carrying connection and inbound events. It is
// cleared on Disconnect.
func (m *ConnectionManager) Events() *EventBus { return m.bus }

// State returns the detailed lifecycle state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the tri-state connectivity view.
func (m *ConnectionManager) Status() Status {
	switch m.State() {
	case StateConnected:
		return StatusConnected
	case StateConnecting, StateReconnecting:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// Ready reports whether a session is active, subscribed and can publish.
func (m *ConnectionManager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyLocked()
}

func (m *ConnectionManager) readyLocked() bool {
	return m.state == StateConnected && m.session != nil && m.subs.active()
}

// Connect starts establishing a session. It is a no-op while a connect is in
// flight or a session is active. credential, when non-empty, is appended to
// the target as ?token=.
func (m *ConnectionManager) Connect(credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.log.Debug("connect ignored", zap.Stringer("state", m.state))
		return
	}
	m.policy.reset()
	m.credential = credential
	m.startDialLocked()
}

// Disconnect tears everything down and disables automatic reconnection.
// It is safe in any state, including while a dial is in flight.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	stopTimer(&m.retryTimer)
	stopTimer(&m.settleTimer)
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	sub := m.subs.release()
	sess := m.session
	m.session = nil
	m.policy.exhaust()
	m.credential = ""
	m.setStateLocked(StateTerminated)
	m.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.log.Debug("unsubscribe failed", zap.Error(err))
		}
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Debug("close session failed", zap.Error(err))
		}
	}
	m.bus.Clear()
	m.log.Info("disconnected by client")
}

// Send publishes env to the configured destination.
func (m *ConnectionManager) Send(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	sess := m.session
	ready := m.readyLocked()
	m.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := sess.Publish(ctx, m.config.SendDestination, body); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// ============================================================================
// Lifecycle internals
// ============================================================================

func (m *ConnectionManager) setStateLocked(s ConnState) {
	m.state = s
	m.metrics.setState(s)
}

func (m *ConnectionManager) startDialLocked() {
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), m.config.DialTimeout)
	m.cancelDial = cancel
	go m.dial(ctx, cancel, epoch, m.credential)
}

func (m *ConnectionManager) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64, credential string) {
	defer cancel()

	target, err := buildTarget(m.config.BaseURL, m.config.Path, credential)
	var sess Session
	if err == nil {
		m.log.Info("connecting", zap.String("target", redactTarget(target)))
		sess, err = m.dialer.Dial(ctx, target, m.config.Heartbeat)
	}

	m.mu.Lock()
	if epoch != m.epoch || m.state != StateConnecting {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		m.log.Warn("dial failed", zap.Error(err))
		after := m.scheduleRetryLocked()
		m.mu.Unlock()
		after()
		return
	}
	m.enterConnectedLocked(epoch, sess)
	m.mu.Unlock()

	go m.watch(epoch, sess)
}

// enterConnectedLocked subscribes first, then arms the settle timer that
// emits the connected event.
func (m *ConnectionManager) enterConnectedLocked(epoch uint64, sess Session) {
	m.session = sess
	m.setStateLocked(StateConnected)
	m.log.Info("connected")

	if _, err := m.subs.ensureSubscribed(sess, m.config.Topic, m.frameHandler(epoch)); err != nil {
		m.log.Error("subscribe failed", zap.String("topic", m.config.Topic), zap.Error(err))
		go sess.Close()
		return
	}
	// Only a subscribed session refills the retry budget.
	m.policy.reset()
	m.log.Debug("subscribed", zap.String("topic", m.config.Topic))
	m.settleTimer = m.clock.AfterFunc(m.config.SettleDelay, func() { m.settled(epoch) })
}

func (m *ConnectionManager) settled(epoch uint64) {
	m.mu.Lock()
	ok := epoch == m.epoch && m.state == StateConnected
	if ok {
		m.settleTimer = nil
	}
	m.mu.Unlock()
	if ok {
		m.bus.Emit(ConnectedEvent{})
	}
}

func (m *ConnectionManager) watch(epoch uint64, sess Session) {
	<-sess.Done()
	m.onClosed(epoch, sess)
}

func (m *ConnectionManager) onClosed(epoch uint64, sess Session) {
	m.mu.Lock()
	if epoch != m.epoch || m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	sub := m.subs.release()
	stopTimer(&m.settleTimer)
	after := m.scheduleRetryLocked()
	m.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	m.log.Info("transport closed")
	m.bus.Emit(DisconnectedEvent{Err: ErrTransportClosed})
	after()
}

// scheduleRetryLocked consults the policy and returns the work to run once
// the lock is released.
func (m *ConnectionManager) scheduleRetryLocked() func() {
	if m.policy.exhausted() {
		m.setStateLocked(StateTerminated)
		maxAttempts := m.policy.maxAttempts
		return func() {
			m.metrics.reconnectExhausted()
			m.log.Error("reconnect attempts exhausted",
				zap.Int("max_attempts", maxAttempts),
				zap.Error(ErrReconnectExhausted))
			safeNotify(m.notifier, m.log, "Connection failed, please refresh and try again", SeverityError)
		}
	}

	attempt, delay, _ := m.policy.next()
	m.setStateLocked(StateReconnecting)
	epoch := m.epoch
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(epoch) })
	maxAttempts := m.policy.maxAttempts
	return func() {
		m.metrics.reconnectScheduled()
		m.log.Info("reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay))
		m.bus.Emit(ReconnectingEvent{Attempt: attempt, MaxAttempts: maxAttempts, Delay: delay})
	}
}

func (m *ConnectionManager) retry(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.state != StateReconnecting {
		return
	}
	m.retryTimer = nil
	m.startDialLocked()
}

func (m *ConnectionManager) live(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch == m.epoch && m.state == StateConnected
}

// ============================================================================
// Inbound decoding
// ============================================================================

func (m *ConnectionManager) frameHandler(epoch uint64) FrameHandler {
	return func(body []byte, err error) {
		if !m.live(epoch) {
			return
		}
		if err != nil {
			m.log.Warn("protocol error", zap.Error(err))
			m.bus.Emit(ErrorEvent{Message: err.Error(), Err: err})
			return
		}
		m.dispatch(body)
	}
}

func (m *ConnectionManager) dispatch(body []byte) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		m.dropFrame("", err)
		return
	}

	switch env.Type {
	case TypeMessage:
		var msg Message
		if err := decodePayload(env, &msg); err != nil {
			m.dropFrame(env.Type, err)
			return
		}
		m.metrics.frame(env.Type)
		m.bus.Emit(MessageEvent{Message: msg})

	case TypeUserJoined, TypeUserLeft:
		var p PresencePayload
		if err := decodePayload(env, &p); err != nil {
			m.dropFrame(env.Type, err)
			return
		}
		m.metrics.frame(env.Type)
		m.bus.Emit(PresenceEvent{
			Joined:   env.Type == TypeUserJoined,
			UserID:   p.UserID,
			Username: p.Username,
			Users:    p.Users,
		})

	case TypeOnlineUsers:
		var users []OnlineUser
		if err := decodePayload(env, &users); err != nil {
			m.dropFrame(env.Type, err)
			return
		}
		m.metrics.frame(env.Type)
		m.bus.Emit(OnlineUsersEvent{Users: users})

	case TypeError:
		var p ServerErrorPayload
		_ = decodePayload(env, &p)
		text := p.Message
		if text == "" {
			text = "Server error"
		}
		m.metrics.frame(env.Type)
		safeNotify(m.notifier, m.log, text, SeverityError)
		m.bus.Emit(ErrorEvent{Message: text})

	default:
		m.metrics.frame("unknown")
		m.log.Debug("ignoring unknown envelope", zap.String("type", string(env.Type)))
	}
}

func (m *ConnectionManager) dropFrame(t EnvelopeType, err error) {
	m.metrics.decodeError()
	m.log.Warn("dropping frame",
		zap.String("type", string(t)),
		zap.Error(fmt.Errorf("%w: %v", ErrProtocolDecode, err)))
}

func decodePayload(env Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(env.Payload, v)
}

func stopTimer(t *timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func redactTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.RawQuery == "" {
		return target
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
