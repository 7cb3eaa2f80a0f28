package forumchat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Fake clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{c: c, at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs every timer that came due, in
// deadline order, outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(now):
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.fn()
	}
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// ============================================================================
// Fake transport
// ============================================================================

type fakeSubscription struct {
	s     *fakeSession
	topic string
}

func (f *fakeSubscription) Unsubscribe() error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.unsubscribed++
	f.s.handler = nil
	return nil
}

type fakeSession struct {
	mu           sync.Mutex
	handler      FrameHandler
	topics       []string
	subscribes   int
	unsubscribed int
	published    [][]byte
	destinations []string
	publishErr   error
	subscribeErr error
	done         chan struct{}
	closeOnce    sync.Once
	closed       bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) Subscribe(topic string, handler FrameHandler) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.topics = append(s.topics, topic)
	s.handler = handler
	return &fakeSubscription{s: s, topic: topic}, nil
}

func (s *fakeSession) Publish(_ context.Context, destination string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.destinations = append(s.destinations, destination)
	s.published = append(s.published, body)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Drop simulates the transport going away underneath the client.
func (s *fakeSession) Drop() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *fakeSession) Deliver(body string) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h([]byte(body), nil)
	}
}

func (s *fakeSession) DeliverErr(err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(nil, err)
	}
}

func (s *fakeSession) Subscribes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func (s *fakeSession) Published() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.published))
	copy(out, s.published)
	return out
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var errDialRefused = errors.New("connection refused")

// fakeDialer hands out sessions, or fails while failing is set.
type fakeDialer struct {
	mu       sync.Mutex
	targets  []string
	hbs      []Heartbeat
	sessions []*fakeSession
	failing  bool
	block    chan struct{}
	// subscribeErr is handed to every session dialed from now on.
	subscribeErr error
}

func (d *fakeDialer) Dial(_ context.Context, target string, hb Heartbeat) (Session, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	d.hbs = append(d.hbs, hb)
	block := d.block
	failing := d.failing
	subscribeErr := d.subscribeErr
	d.mu.Unlock()

	// A blocked dial ignores ctx so tests can observe a session that
	// arrives after the caller gave up on it.
	if block != nil {
		<-block
	}
	if failing {
		return nil, errDialRefused
	}
	s := newFakeSession()
	s.subscribeErr = subscribeErr
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) Sessions() []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeSession, len(d.sessions))
	copy(out, d.sessions)
	return out
}

func (d *fakeDialer) Last() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) SetSubscribeErr(err error) {
	d.mu.Lock()
	d.subscribeErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) SetFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

// ============================================================================
// Notices
// ============================================================================

type notice struct {
	Message  string
	Severity Severity
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Notify(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{message, severity})
}

func (r *recordingNotifier) All() []notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notice, len(r.notices))
	copy(out, r.notices)
	return out
}

func (r *recordingNotifier) Count(sev Severity) int {
	n := 0
	for _, x := range r.All() {
		if x.Severity == sev {
			n++
		}
	}
	return n
}
