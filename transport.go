package forumchat

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Heartbeat holds the keepalive intervals negotiated with the broker.
type Heartbeat struct {
	Incoming time.Duration
	Outgoing time.Duration
}

// FrameHandler receives subscription deliveries in transport order. err is
// set for protocol-level errors reported by the broker.
type FrameHandler func(body []byte, err error)

// Subscription is a handle bound to one topic of one Session.
type Subscription interface {
	Unsubscribe() error
}

// Session is one live transport connection.
type Session interface {
	Subscribe(topic string, handler FrameHandler) (Subscription, error)
	Publish(ctx context.Context, destination string, body []byte) error
	// Done is closed once the transport is gone, for whatever reason.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens Sessions.
type Dialer interface {
	Dial(ctx context.Context, target string, hb Heartbeat) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, target string, hb Heartbeat) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, target string, hb Heartbeat) (Session, error) {
	return f(ctx, target, hb)
}

// buildTarget maps an http(s) base URL to the ws(s) chat endpoint, appending
// the optional credential as ?token=.
func buildTarget(baseURL, path, credential string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	if credential != "" {
		u.RawQuery = url.Values{"token": []string{credential}}.Encode()
	}
	return u.String(), nil
}
