// Package server wraps accepted transports in Connections, handling line
// framing, the outbound queue, and the single writer goroutine.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection represents one accepted peer. Its identity is empty until the
// session negotiates it. The active flag and slot are owned by the Registry
// and only touched while the Registry lock is held.
type Connection struct {
	id        string
	addr      string
	transport Transport
	reader    *bufio.Reader
	log       *slog.Logger

	name string
	room string

	active bool
	slot   int

	send         chan []byte
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

// NewConnection wraps transport and starts its writer goroutine. Line and
// queue limits come from cfg.
func NewConnection(transport Transport, addr string, cfg Config, logger *slog.Logger) *Connection {
	cfg = cfg.sanitize()
	if logger == nil {
		logger = discardLogger()
	}
	id := uuid.NewString()
	c := &Connection{
		id:           id,
		addr:         addr,
		transport:    transport,
		reader:       bufio.NewReaderSize(transport, cfg.MaxLineLength),
		log:          logger.With("conn_id", id, "addr", addr),
		slot:         -1,
		send:         make(chan []byte, cfg.SendQueueSize),
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	go c.writePump()
	return c
}

// ID returns the connection's log correlation id.
func (c *Connection) ID() string { return c.id }

// Addr returns the remote address the connection was accepted from.
func (c *Connection) Addr() string { return c.addr }

// Name returns the negotiated display name, empty before negotiation.
func (c *Connection) Name() string { return c.name }

// Room returns the negotiated room, empty before negotiation.
func (c *Connection) Room() string { return c.room }

// setIdentity is called once by the session before admission.
func (c *Connection) setIdentity(name, room string) {
	c.name = name
	c.room = room
}

// ReadLine returns the next inbound line with its trailing newline (and a
// carriage return before it) stripped. A line longer than the read buffer is
// returned one buffer at a time. A final unterminated chunk before EOF is
// returned as a line; the following call reports io.EOF.
func (c *Connection) ReadLine() (string, error) {
	line, err := c.reader.ReadSlice('\n')
	switch {
	case err == nil:
	case errors.Is(err, bufio.ErrBufferFull):
		return string(line), nil
	case errors.Is(err, io.EOF) && len(line) > 0:
	default:
		return "", err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return string(line), nil
}

// Send queues msg for the writer, blocking while the queue is full. It is
// used for replies addressed to this connection alone and must only be called
// by the owning session.
func (c *Connection) Send(msg string) {
	c.send <- []byte(msg)
}

// trySend queues msg without blocking and reports whether it was accepted.
// The Registry calls it under its lock, and only for active connections,
// so the queue is never closed underneath it.
func (c *Connection) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops accepting replies, lets the writer flush what is queued, and
// closes the transport. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
	<-c.done
}

// closeTransport closes the underlying transport immediately so that a
// blocked ReadLine returns. The queue is left to the owning session.
func (c *Connection) closeTransport() {
	if err := c.transport.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing transport", "err", err)
	}
}

func (c *Connection) writePump() {
	defer func() {
		c.closeTransport()
		close(c.done)
	}()

	failed := false
	for msg := range c.send {
		if failed {
			continue
		}
		if !c.write(msg) {
			// Keep draining so blocked Send calls return; unblock the reader too.
			failed = true
			c.closeTransport()
		}
	}
}

func (c *Connection) write(msg []byte) bool {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error setting write deadline", "err", err)
		}
		return false
	}
	if _, err := c.transport.Write(msg); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write failed", "err", err)
		}
		return false
	}
	return true
}
