package forumchat

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storeEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, user, content string, offset time.Duration) Message {
	return Message{
		ID:        ID(id),
		UserID:    ID(user),
		Username:  "user" + user,
		Content:   content,
		CreatedAt: Timestamp{storeEpoch.Add(offset)},
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.ID)
	}
	return out
}

func newTestStore() *MessageStore {
	return NewMessageStore(withClock(newFakeClock(storeEpoch)))
}

// ============================================================================
// Insert
// ============================================================================

func TestMessageStoreInsert(t *testing.T) {
	t.Run("same id is a no-op", func(t *testing.T) {
		s := newTestStore()
		require.True(t, s.Insert(msgAt("1", "a", "hi", 0)))
		assert.False(t, s.Insert(msgAt("1", "b", "other", time.Hour)))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("echo within the window is dropped", func(t *testing.T) {
		s := newTestStore()
		require.True(t, s.Insert(msgAt("1", "a", "hi", 0)))
		assert.False(t, s.Insert(msgAt("2", "a", "hi", 999*time.Millisecond)))
		assert.False(t, s.Insert(msgAt("3", "a", "hi", -500*time.Millisecond)))
		assert.Equal(t, []string{"1"}, ids(s.Messages()))
	})

	t.Run("window is strict", func(t *testing.T) {
		s := newTestStore()
		require.True(t, s.Insert(msgAt("1", "a", "hi", 0)))
		assert.True(t, s.Insert(msgAt("2", "a", "hi", time.Second)))
	})

	t.Run("other author or content is distinct", func(t *testing.T) {
		s := newTestStore()
		require.True(t, s.Insert(msgAt("1", "a", "hi", 0)))
		assert.True(t, s.Insert(msgAt("2", "b", "hi", 0)))
		assert.True(t, s.Insert(msgAt("3", "a", "hello", 0)))
		assert.Equal(t, 3, s.Len())
	})

	t.Run("cap drops the oldest", func(t *testing.T) {
		s := newTestStore()
		for i := 1; i <= 501; i++ {
			require.True(t, s.Insert(msgAt(fmt.Sprint(i), "a", fmt.Sprintf("m%d", i), time.Duration(i)*time.Second)))
		}
		got := s.Messages()
		require.Len(t, got, 500)
		assert.Equal(t, ID("2"), got[0].ID)
		assert.Equal(t, ID("501"), got[499].ID)

		// The evicted id no longer counts as present.
		assert.True(t, s.Insert(msgAt("1", "z", "again", time.Hour)))
	})

	t.Run("normalizes missing fields", func(t *testing.T) {
		s := newTestStore()
		require.True(t, s.Insert(Message{UserID: "a", Content: "anon"}))
		got := s.Messages()[0]
		assert.Equal(t, "unknown user", got.Username)
		assert.True(t, got.CreatedAt.Equal(storeEpoch))
		assert.True(t, strings.HasPrefix(string(got.ID), "local-"))

		require.True(t, s.Insert(Message{UserID: "b", Content: "anon"}))
		second := s.Messages()[1]
		assert.NotEqual(t, got.ID, second.ID)
	})
}

// ============================================================================
// Identity
// ============================================================================

func TestMessageStoreIdentity(t *testing.T) {
	s := newTestStore()
	s.SetIdentity("a")
	s.Insert(msgAt("1", "a", "mine", 0))
	s.Insert(msgAt("2", "b", "theirs", 0))

	got := s.Messages()
	assert.True(t, got[0].IsOwn)
	assert.False(t, got[1].IsOwn)

	s.SetIdentity("b")
	got = s.Messages()
	assert.False(t, got[0].IsOwn)
	assert.True(t, got[1].IsOwn)

	s.SetIdentity("")
	for _, m := range s.Messages() {
		assert.False(t, m.IsOwn)
	}
}

// ============================================================================
// Reconcile
// ============================================================================

func TestMessageStoreReconcile(t *testing.T) {
	t.Run("history replaces the list in server order", func(t *testing.T) {
		s := newTestStore()
		s.Insert(msgAt("old", "a", "stale", 0))

		var history []Message
		var want []string
		for i := 1; i <= 50; i++ {
			id := fmt.Sprintf("h%d", i)
			history = append(history, msgAt(id, "a", "line "+id, time.Duration(i)*time.Minute))
			want = append(want, id)
		}
		s.ReconcileHistory(history)
		assert.Equal(t, want, ids(s.Messages()))
	})

	t.Run("live messages wait for history", func(t *testing.T) {
		s := newTestStore()
		s.BeginReconcile()

		_, ok := s.Deliver(msgAt("h2", "b", "echo", time.Minute))
		assert.False(t, ok)
		_, ok = s.Deliver(msgAt("live", "c", "new", 2*time.Minute))
		assert.False(t, ok)
		assert.Zero(t, s.Len())

		s.ReconcileHistory([]Message{
			msgAt("h1", "a", "first", 0),
			msgAt("h2", "b", "echo", time.Minute),
		})
		assert.Equal(t, []string{"h1", "h2", "live"}, ids(s.Messages()))

		stored, ok := s.Deliver(msgAt("after", "c", "later", 3*time.Minute))
		assert.True(t, ok)
		assert.Equal(t, ID("after"), stored.ID)
	})

	t.Run("abort replays buffered messages onto the current list", func(t *testing.T) {
		s := newTestStore()
		s.Insert(msgAt("kept", "a", "x", 0))
		s.BeginReconcile()
		s.Deliver(msgAt("live", "b", "y", time.Minute))
		s.AbortReconcile()
		assert.Equal(t, []string{"kept", "live"}, ids(s.Messages()))
	})

	t.Run("clear drops buffer and list", func(t *testing.T) {
		s := newTestStore()
		s.Insert(msgAt("1", "a", "x", 0))
		s.BeginReconcile()
		s.Deliver(msgAt("2", "a", "y", time.Minute))
		s.Clear()
		assert.Zero(t, s.Len())

		_, ok := s.Deliver(msgAt("3", "a", "z", time.Minute))
		assert.True(t, ok)
		assert.Equal(t, []string{"3"}, ids(s.Messages()))
	})
}

func TestOnlineUserSet(t *testing.T) {
	var o OnlineUserSet
	assert.Zero(t, o.Count())

	users := []OnlineUser{{ID: "1", Username: "ann"}, {ID: "2", Username: "bob"}}
	o.Replace(users)
	users[0].Username = "mutated"
	assert.Equal(t, "ann", o.Users()[0].Username)
	assert.Equal(t, 2, o.Count())

	o.Replace(nil)
	assert.Empty(t, o.Users())
}
