package forumchat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectPolicy(t *testing.T) {
	cfg := &RealtimeConfig{}
	cfg.defaults()

	t.Run("fixed delay up to the budget", func(t *testing.T) {
		p := newReconnectPolicy(cfg)
		for i := 1; i <= 5; i++ {
			attempt, delay, ok := p.next()
			assert.True(t, ok)
			assert.Equal(t, i, attempt)
			assert.Equal(t, 3000*time.Millisecond, delay)
		}
		_, _, ok := p.next()
		assert.False(t, ok)
		assert.True(t, p.exhausted())
	})

	t.Run("exhaust blocks further attempts", func(t *testing.T) {
		p := newReconnectPolicy(cfg)
		p.next()
		p.exhaust()
		_, _, ok := p.next()
		assert.False(t, ok)
	})

	t.Run("reset restores the budget", func(t *testing.T) {
		p := newReconnectPolicy(cfg)
		p.exhaust()
		p.reset()
		assert.False(t, p.exhausted())
		attempt, _, ok := p.next()
		assert.True(t, ok)
		assert.Equal(t, 1, attempt)
	})
}
