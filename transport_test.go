package forumchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTarget(t *testing.T) {
	cases := []struct {
		name, base, cred, want string
	}{
		{"http", "http://forum.test", "", "ws://forum.test/api/chat/ws"},
		{"https", "https://forum.test", "", "wss://forum.test/api/chat/ws"},
		{"port and trailing slash", "http://localhost:8080/", "7", "ws://localhost:8080/api/chat/ws?token=7"},
		{"ws passthrough", "ws://forum.test", "", "ws://forum.test/api/chat/ws"},
		{"base path kept", "https://forum.test/app", "", "wss://forum.test/app/api/chat/ws"},
		{"credential escaped", "http://forum.test", "a b&c", "ws://forum.test/api/chat/ws?token=a+b%26c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildTarget(tc.base, DefaultChatPath, tc.cred)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("rejects other schemes", func(t *testing.T) {
		_, err := buildTarget("ftp://forum.test", DefaultChatPath, "")
		assert.Error(t, err)
	})

	t.Run("rejects missing host", func(t *testing.T) {
		_, err := buildTarget("http://", DefaultChatPath, "")
		assert.Error(t, err)
	})
}

func TestRealtimeConfigDefaults(t *testing.T) {
	cfg := RealtimeConfig{MaxReconnectAttempts: 2}
	cfg.defaults()
	assert.Equal(t, DefaultChatPath, cfg.Path)
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, DefaultSendDestination, cfg.SendDestination)
	assert.Equal(t, 2, cfg.MaxReconnectAttempts)
	assert.Equal(t, "3s", cfg.ReconnectDelay.String())
	assert.Equal(t, "4s", cfg.Heartbeat.Incoming.String())
	assert.Equal(t, "100ms", cfg.SettleDelay.String())
}
