package forumchat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	ready bool
	err   error
	sent  []string
}

func (p *fakePublisher) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *fakePublisher) Send(_ context.Context, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return err
	}
	p.sent = append(p.sent, payload.Content)
	return nil
}

func newTestDedup(ready bool) (*OutboundDeduplicator, *fakePublisher, *fakeClock, *recordingNotifier) {
	pub := &fakePublisher{ready: ready}
	// Mid-second start so sub-second steps stay inside one bucket.
	clk := newFakeClock(time.Unix(1700000000, 200*int64(time.Millisecond)))
	notes := &recordingNotifier{}
	return NewOutboundDeduplicator(pub, WithNotifier(notes), withClock(clk)), pub, clk, notes
}

func TestOutboundDeduplicator(t *testing.T) {
	ctx := context.Background()

	t.Run("same content in the same second is suppressed", func(t *testing.T) {
		d, pub, clk, notes := newTestDedup(true)

		require.NoError(t, d.TrySend(ctx, "hello"))
		clk.Advance(300 * time.Millisecond)
		assert.ErrorIs(t, d.TrySend(ctx, "  hello "), ErrDuplicateSuppressed)

		clk.Advance(2001 * time.Millisecond)
		require.NoError(t, d.TrySend(ctx, "hello"))

		assert.Equal(t, []string{"hello", "hello"}, pub.sent)
		assert.Empty(t, notes.All())
	})

	t.Run("second boundary splits the bucket", func(t *testing.T) {
		d, pub, clk, _ := newTestDedup(true)
		require.NoError(t, d.TrySend(ctx, "tick"))
		clk.Advance(800 * time.Millisecond)
		require.NoError(t, d.TrySend(ctx, "tick"))
		assert.Len(t, pub.sent, 2)
	})

	t.Run("different content is not a duplicate", func(t *testing.T) {
		d, pub, _, _ := newTestDedup(true)
		require.NoError(t, d.TrySend(ctx, "a"))
		require.NoError(t, d.TrySend(ctx, "b"))
		require.NoError(t, d.TrySend(ctx, "a"))
		assert.Equal(t, []string{"a", "b", "a"}, pub.sent)
	})

	t.Run("expiry keeps a newer key", func(t *testing.T) {
		d, pub, clk, _ := newTestDedup(true)
		require.NoError(t, d.TrySend(ctx, "first"))
		clk.Advance(1500 * time.Millisecond)
		require.NoError(t, d.TrySend(ctx, "second"))

		// The first key's expiry fires here and must leave "second" alone.
		clk.Advance(600 * time.Millisecond)
		assert.Equal(t, "second_1700000001", d.lastKey)
		assert.Len(t, pub.sent, 2)
	})

	t.Run("whitespace is rejected regardless of readiness", func(t *testing.T) {
		for _, ready := range []bool{true, false} {
			d, pub, _, notes := newTestDedup(ready)
			assert.ErrorIs(t, d.TrySend(ctx, "   \n\t"), ErrEmptyContent)
			assert.Empty(t, pub.sent)
			assert.Empty(t, notes.All())
		}
	})

	t.Run("not ready warns", func(t *testing.T) {
		d, pub, _, notes := newTestDedup(false)
		assert.ErrorIs(t, d.TrySend(ctx, "hello"), ErrNotReady)
		assert.Empty(t, pub.sent)
		assert.Equal(t, []notice{{"Connection not established, please try again later", SeverityWarning}}, notes.All())
	})

	t.Run("publish failure does not record the key", func(t *testing.T) {
		d, pub, _, notes := newTestDedup(true)
		pub.err = errors.New("broken pipe")
		assert.ErrorContains(t, d.TrySend(ctx, "hello"), "broken pipe")
		assert.Equal(t, 1, notes.Count(SeverityError))

		pub.err = nil
		require.NoError(t, d.TrySend(ctx, "hello"))
	})

	t.Run("reset forgets the key", func(t *testing.T) {
		d, pub, _, _ := newTestDedup(true)
		require.NoError(t, d.TrySend(ctx, "hello"))
		d.Reset()
		require.NoError(t, d.TrySend(ctx, "hello"))
		assert.Len(t, pub.sent, 2)
	})
}
