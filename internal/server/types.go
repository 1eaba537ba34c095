// Package server defines the transport abstraction shared by the TCP and
// WebSocket front ends, plus small error helpers.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Transport is a byte stream a Connection can read lines from and write
// framed replies to. net.Conn satisfies it directly.
type Transport interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
