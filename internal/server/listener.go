package server

import (
	"errors"
	"net"
	"time"
)

const maxAcceptBackoff = time.Second

// acceptLoop hands every accepted TCP connection to ServeTransport until the
// listener is closed. Other accept errors are retried with backoff.
func (s *Server) acceptLoop(ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.log.Info("chat listener closed")
				return nil
			}
			// Resource exhaustion and aborted handshakes are transient.
			backoff = nextBackoff(backoff)
			s.log.Warn("accept error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		addr := conn.RemoteAddr().String()
		s.log.Debug("client connected", "addr", addr)
		s.ServeTransport(conn, addr)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
