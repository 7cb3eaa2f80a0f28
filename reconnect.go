package forumchat

import "time"

// reconnectPolicy is a bounded, fixed-delay retry budget.
type reconnectPolicy struct {
	delay       time.Duration
	maxAttempts int
	attempt     int
}

func newReconnectPolicy(config *RealtimeConfig) *reconnectPolicy {
	return &reconnectPolicy{
		delay:       config.ReconnectDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

// next consumes one attempt. ok is false once the budget is spent.
func (r *reconnectPolicy) next() (attempt int, delay time.Duration, ok bool) {
	if r.attempt >= r.maxAttempts {
		return r.attempt, 0, false
	}
	r.attempt++
	return r.attempt, r.delay, true
}

func (r *reconnectPolicy) exhausted() bool {
	return r.attempt >= r.maxAttempts
}

// exhaust makes every pending or future retry a no-op until reset.
func (r *reconnectPolicy) exhaust() {
	r.attempt = r.maxAttempts
}

func (r *reconnectPolicy) reset() {
	r.attempt = 0
}
