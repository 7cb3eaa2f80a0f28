package forumchat

import "go.uber.org/zap"

type options struct {
	log      *zap.Logger
	metrics  *Metrics
	notifier Notifier
	clock    clock
	pageSize int
}

// Option configures the realtime components (ConnectionManager,
// OutboundDeduplicator, MessageStore, ChatSession).
type Option func(*options)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithNotifier sets the user-notice sink. The default logs notices at info level.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithHistoryPageSize sets how many messages a ChatSession loads on connect.
func WithHistoryPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

func withClock(c clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.notifier == nil {
		o.notifier = logNotifier{log: o.log}
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultHistoryPageSize
	}
	return o
}
