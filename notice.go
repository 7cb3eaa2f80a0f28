package forumchat

import (
	"sync"

	"go.uber.org/zap"
)

// Severity classifies a user-visible notice.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier is the fire-and-forget user-notice sink. Implementations must not block.
type Notifier interface {
	Notify(message string, severity Severity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string, severity Severity)

func (f NotifierFunc) Notify(message string, severity Severity) { f(message, severity) }

// logNotifier routes notices to the logger when no UI sink is wired.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(message string, severity Severity) {
	n.log.Info("notice", zap.String("severity", string(severity)), zap.String("message", message))
}

// safeNotify shields the caller from a panicking sink.
func safeNotify(n Notifier, log *zap.Logger, message string, severity Severity) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("notifier panicked", zap.Any("panic", r))
		}
	}()
	n.Notify(message, severity)
}

// Identity exposes the local user. An empty UserID means logged out.
type Identity interface {
	UserID() ID
}

// StaticIdentity is a mutable Identity for callers that track the user themselves.
type StaticIdentity struct {
	mu sync.RWMutex
	id ID
}

// NewStaticIdentity returns an identity initialised to id.
func NewStaticIdentity(id ID) *StaticIdentity {
	return &StaticIdentity{id: id}
}

func (s *StaticIdentity) UserID() ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Set replaces the identity and returns the previous one.
func (s *StaticIdentity) Set(id ID) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.id
	s.id = id
	return old
}
