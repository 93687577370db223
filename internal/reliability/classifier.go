package reliability

import (
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// ShouldReconnect classifies a websocket close code. A normal closure means
// the peer is done with us; everything else is worth another dial.
func ShouldReconnect(closeCode int) bool {
	return closeCode != websocket.CloseNormalClosure
}

// CloseCodeFromError extracts the close code carried by a websocket read
// error. Errors without one (dial failures, deadline hits, dropped TCP)
// report CloseAbnormalClosure.
func CloseCodeFromError(err error) int {
	if err == nil {
		return websocket.CloseNormalClosure
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

// IsTransientNetErr classifies errors the dialer may retry: timeouts and
// connection-level failures rather than handshake rejections.
func IsTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, websocket.ErrBadHandshake) ||
		websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
