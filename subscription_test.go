package forumchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistry(t *testing.T) {
	noop := func([]byte, error) {}

	t.Run("idempotent per session", func(t *testing.T) {
		var r subscriptionRegistry
		s := newFakeSession()

		first, err := r.ensureSubscribed(s, DefaultTopic, noop)
		require.NoError(t, err)
		second, err := r.ensureSubscribed(s, DefaultTopic, noop)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, 1, s.Subscribes())
		assert.True(t, r.active())
	})

	t.Run("new session replaces the stale handle", func(t *testing.T) {
		var r subscriptionRegistry
		old, fresh := newFakeSession(), newFakeSession()

		_, err := r.ensureSubscribed(old, DefaultTopic, noop)
		require.NoError(t, err)
		_, err = r.ensureSubscribed(fresh, DefaultTopic, noop)
		require.NoError(t, err)

		assert.Equal(t, 1, old.unsubscribed)
		assert.Equal(t, 1, fresh.Subscribes())
	})

	t.Run("teardown unsubscribes once", func(t *testing.T) {
		var r subscriptionRegistry
		s := newFakeSession()
		_, err := r.ensureSubscribed(s, DefaultTopic, noop)
		require.NoError(t, err)

		require.NoError(t, r.teardown())
		require.NoError(t, r.teardown())
		assert.Equal(t, 1, s.unsubscribed)
		assert.False(t, r.active())
	})

	t.Run("release hands back the handle untouched", func(t *testing.T) {
		var r subscriptionRegistry
		s := newFakeSession()
		_, err := r.ensureSubscribed(s, DefaultTopic, noop)
		require.NoError(t, err)

		sub := r.release()
		require.NotNil(t, sub)
		assert.Zero(t, s.unsubscribed)
		assert.Nil(t, r.release())
	})
}
