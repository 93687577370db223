package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitchlab/coachlink/internal/protocol"
)

// DefaultBackendURL is where a locally run coach backend listens.
const DefaultBackendURL = "ws://127.0.0.1:8080"

var errSocketClosed = errors.New("backend connection closed")

// socket wraps one websocket connection with a channel-fed reader so the run
// loop can select across frames, read errors and its own timers.
type socket struct {
	conn *websocket.Conn
	msgs chan []byte
	errs chan error
}

func dialSocket(ctx context.Context, rawURL string, handshakeTimeout time.Duration) (*socket, error) {
	target, err := NormalizeBackendURL(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("dial coach backend: %w", err)
	}
	return newSocket(conn), nil
}

func newSocket(conn *websocket.Conn) *socket {
	s := &socket{
		conn: conn,
		msgs: make(chan []byte, 256),
		errs: make(chan error, 1),
	}
	go func() {
		defer close(s.msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				s.errs <- err
				return
			}
			s.msgs <- data
		}
	}()
	return s
}

func (s *socket) nextMessage(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		if err == nil {
			return nil, errSocketClosed
		}
		return nil, err
	case data, ok := <-s.msgs:
		if !ok {
			select {
			case err := <-s.errs:
				if err != nil {
					return nil, err
				}
			default:
			}
			return nil, errSocketClosed
		}
		return data, nil
	}
}

// awaitConnected reads frames until the backend announces itself. Frames that
// arrive before the announcement come back in pending so none are lost. The
// caller bounds the wait through ctx.
func (s *socket) awaitConnected(ctx context.Context) (protocol.ServerMessage, [][]byte, error) {
	var pending [][]byte
	for {
		data, err := s.nextMessage(ctx)
		if err != nil {
			return protocol.ServerMessage{}, pending, fmt.Errorf("await backend hello: %w", err)
		}
		msg, perr := protocol.ParseServerMessage(data)
		if perr == nil && msg.Type == protocol.TypeConnected {
			return msg, pending, nil
		}
		pending = append(pending, data)
	}
}

func (s *socket) writeJSON(payload any, timeout time.Duration) error {
	if s.conn == nil {
		return errors.New("backend connection is nil")
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteJSON(payload)
}

func (s *socket) writeRaw(data []byte, timeout time.Duration) error {
	if s.conn == nil {
		return errors.New("backend connection is nil")
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with the given code, then tears the socket down.
func (s *socket) close(code int, reason string) {
	if s.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = s.conn.Close()
}

// teardown drops the connection without the close handshake, for links that
// are already dead.
func (s *socket) teardown() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
}

// NormalizeBackendURL fills defaults and maps http schemes onto websocket
// ones so COACHLINK_BACKEND_URL accepts either form.
func NormalizeBackendURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBackendURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
