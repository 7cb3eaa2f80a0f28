package forumchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// STOMP over WebSocket
// ============================================================================

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// StompDialer opens STOMP sessions over a WebSocket.
type StompDialer struct {
	HTTPClient *http.Client
	// Header is sent on the handshake; the session cookie rides here.
	Header http.Header
	// SockJS targets the raw websocket transport of a SockJS endpoint
	// ({path}/websocket).
	SockJS bool
	// DisconnectTimeout bounds the graceful DISCONNECT receipt wait on Close.
	DisconnectTimeout time.Duration
	Logger            *zap.Logger
}

// Dial performs the WebSocket handshake and the STOMP CONNECT exchange.
func (d *StompDialer) Dial(ctx context.Context, target string, hb Heartbeat) (Session, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.SockJS {
		target = sockJSRaw(target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	ws, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient:   d.HTTPClient,
		HTTPHeader:   d.Header,
		Subprotocols: stompSubprotocols,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(1 << 20)

	// The stream outlives the dial context; it ends with Close.
	streamCtx, cancel := context.WithCancel(context.Background())
	wc := newWatchedConn(websocket.NetConn(streamCtx, ws, websocket.MessageText), cancel)

	conn, err := stomp.Connect(wc,
		stomp.ConnOpt.Host(u.Hostname()),
		stomp.ConnOpt.HeartBeat(hb.Outgoing, hb.Incoming),
	)
	if err != nil {
		wc.Close()
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	timeout := d.DisconnectTimeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	log.Debug("stomp session established", zap.String("version", string(conn.Version())))
	return &stompSession{conn: conn, wc: wc, timeout: timeout, log: log}, nil
}

// sockJSRaw inserts the SockJS raw websocket suffix ahead of the query.
func sockJSRaw(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	}
	return u.String()
}

type stompSession struct {
	conn    *stomp.Conn
	wc      *watchedConn
	timeout time.Duration
	log     *zap.Logger

	closeOnce sync.Once
}

func (s *stompSession) Subscribe(topic string, handler FrameHandler) (Subscription, error) {
	sub, err := s.conn.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				handler(nil, msg.Err)
				continue
			}
			handler(msg.Body, nil)
		}
	}()
	return &stompSubscription{sub: sub, topic: topic, timeout: s.timeout}, nil
}

func (s *stompSession) Publish(ctx context.Context, destination string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.wc.done:
		return ErrTransportClosed
	default:
	}
	return s.conn.Send(destination, "application/json", body)
}

func (s *stompSession) Done() <-chan struct{} { return s.wc.done }

// Close sends DISCONNECT and waits briefly for the receipt before dropping
// the socket.
func (s *stompSession) Close() error {
	s.closeOnce.Do(func() {
		finished := make(chan error, 1)
		go func() { finished <- s.conn.Disconnect() }()
		select {
		case err := <-finished:
			if err != nil && !errors.Is(err, stomp.ErrAlreadyClosed) {
				s.log.Debug("stomp disconnect", zap.Error(err))
			}
		case <-time.After(s.timeout):
			s.log.Debug("stomp disconnect timed out")
		}
		// The peer may already have closed the socket; that is not a failure.
		if err := s.wc.Close(); err != nil {
			s.log.Debug("close websocket", zap.Error(err))
		}
	})
	return nil
}

type stompSubscription struct {
	sub     *stomp.Subscription
	topic   string
	timeout time.Duration
}

// Unsubscribe waits for the broker's receipt, bounded by the session's
// disconnect timeout.
func (s *stompSubscription) Unsubscribe() error {
	if !s.sub.Active() {
		return nil
	}
	finished := make(chan error, 1)
	go func() { finished <- s.sub.Unsubscribe() }()
	select {
	case err := <-finished:
		if err != nil && !errors.Is(err, stomp.ErrCompletedSubscription) {
			return fmt.Errorf("unsubscribe %s: %w", s.topic, err)
		}
		return nil
	case <-time.After(s.timeout):
		return fmt.Errorf("unsubscribe %s: no receipt after %s", s.topic, s.timeout)
	}
}

// ============================================================================
// watchedConn
// ============================================================================

// watchedConn closes done on the first read failure or on Close.
type watchedConn struct {
	net.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newWatchedConn(c net.Conn, cancel context.CancelFunc) *watchedConn {
	return &watchedConn{Conn: c, cancel: cancel, done: make(chan struct{})}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.signal()
	}
	return n, err
}

func (w *watchedConn) Close() error {
	err := w.Conn.Close()
	w.cancel()
	w.signal()
	return err
}

func (w *watchedConn) signal() {
	w.once.Do(func() { close(w.done) })
}
