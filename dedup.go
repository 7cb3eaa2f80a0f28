package forumchat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDedupExpiry is how long a recorded send key stays live.
const DefaultDedupExpiry = 2000 * time.Millisecond

// publisher is the slice of ConnectionManager the deduplicator needs.
type publisher interface {
	Ready() bool
	Send(ctx context.Context, env Envelope) error
}

// OutboundDeduplicator drops repeated sends of identical content issued in
// the same wall-clock second, which is what a double-fired UI trigger looks like.
type OutboundDeduplicator struct {
	pub      publisher
	notifier Notifier
	log      *zap.Logger
	metrics  *Metrics
	clock    clock
	expiry   time.Duration

	mu      sync.Mutex
	lastKey string
}

// NewOutboundDeduplicator wraps pub.
func NewOutboundDeduplicator(pub publisher, opts ...Option) *OutboundDeduplicator {
	o := buildOptions(opts)
	return &OutboundDeduplicator{
		pub:      pub,
		notifier: o.notifier,
		log:      o.log.Named("send"),
		metrics:  o.metrics,
		clock:    o.clock,
		expiry:   DefaultDedupExpiry,
	}
}

// TrySend publishes content as a message envelope. It returns
// ErrEmptyContent, ErrNotReady (after a warning notice),
// ErrDuplicateSuppressed (silently) or a wrapped publish error.
func (d *OutboundDeduplicator) TrySend(ctx context.Context, content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		d.metrics.send("empty")
		return ErrEmptyContent
	}
	if !d.pub.Ready() {
		d.metrics.send("not_ready")
		safeNotify(d.notifier, d.log, "Connection not established, please try again later", SeverityWarning)
		return ErrNotReady
	}

	key := trimmed + "_" + strconv.FormatInt(d.clock.Now().Unix(), 10)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastKey == key {
		d.metrics.send("duplicate")
		d.log.Debug("duplicate send suppressed", zap.String("content", trimmed))
		return ErrDuplicateSuppressed
	}

	if err := d.pub.Send(ctx, NewMessageEnvelope(trimmed)); err != nil {
		d.metrics.send("failed")
		if errors.Is(err, ErrNotReady) {
			safeNotify(d.notifier, d.log, "Connection not established, please try again later", SeverityWarning)
			return err
		}
		d.log.Warn("send failed", zap.Error(err))
		safeNotify(d.notifier, d.log, "Failed to send message", SeverityError)
		return err
	}

	d.metrics.send("sent")
	d.lastKey = key
	d.clock.AfterFunc(d.expiry, func() {
		d.mu.Lock()
		if d.lastKey == key {
			d.lastKey = ""
		}
		d.mu.Unlock()
	})
	return nil
}

// Reset forgets the recorded key.
func (d *OutboundDeduplicator) Reset() {
	d.mu.Lock()
	d.lastKey = ""
	d.mu.Unlock()
}
