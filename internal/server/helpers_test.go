package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// newTestServer builds a Server without binding any listener. Sessions are
// fed through ServeTransport with in-memory pipes.
func newTestServer(t *testing.T, mutate func(*Config), opts ...Option) *Server {
	t.Helper()
	cfg := NewConfig()
	cfg.HTTPAddr = ""
	cfg.WriteTimeout = testTimeout
	if mutate != nil {
		mutate(cfg)
	}
	srv := New(*cfg, discardLogger(), opts...)
	t.Cleanup(func() {
		_ = srv.Shutdown(testTimeout)
	})
	return srv
}

// pipeClient is the peer side of a net.Pipe handed to the server.
type pipeClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialPipe(t *testing.T, srv *Server) *pipeClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	srv.ServeTransport(serverSide, "pipe:"+t.Name())
	t.Cleanup(func() { _ = clientSide.Close() })
	return &pipeClient{t: t, conn: clientSide, r: bufio.NewReader(clientSide)}
}

func (c *pipeClient) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(testTimeout)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

// setReadDeadline arms the read deadline. net.Pipe refuses deadlines once
// the server end is closed; reads then drain c.r and report io.EOF, so that
// case is not an error here.
func (c *pipeClient) setReadDeadline() {
	c.t.Helper()
	err := c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		require.NoError(c.t, err)
	}
}

// expect reads exactly len(want) bytes and compares them.
func (c *pipeClient) expect(want string) {
	c.t.Helper()
	c.setReadDeadline()
	got := make([]byte, len(want))
	_, err := io.ReadFull(c.r, got)
	require.NoError(c.t, err, "waiting for %q", want)
	require.Equal(c.t, want, string(got))
}

// expectClosed asserts that the server closed its end.
func (c *pipeClient) expectClosed() {
	c.t.Helper()
	c.setReadDeadline()
	_, err := c.r.ReadByte()
	require.ErrorIs(c.t, err, io.EOF)
}

// negotiate answers both prompts without consuming the admission replies.
func (c *pipeClient) negotiate(name, room string) {
	c.t.Helper()
	c.expect(PromptName)
	c.send(name)
	c.expect(PromptRoom)
	c.send(room)
}

// join negotiates and consumes the client's own join announcement and welcome.
func (c *pipeClient) join(name, room string) {
	c.t.Helper()
	c.negotiate(name, room)
	c.expect(JoinAnnouncement(name, room))
	c.expect(WelcomeLine(room))
}

// recordingTransport collects writes in memory. Reads block until Close.
type recordingTransport struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{done: make(chan struct{})}
}

func (r *recordingTransport) Read([]byte) (int, error) {
	<-r.done
	return 0, io.EOF
}

func (r *recordingTransport) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, net.ErrClosed
	}
	return r.buf.Write(p)
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return net.ErrClosed
	}
	r.closed = true
	r.once.Do(func() { close(r.done) })
	return nil
}

func (r *recordingTransport) SetWriteDeadline(time.Time) error { return nil }

func (r *recordingTransport) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *recordingTransport) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// blockingTransport parks every Write until release is closed.
type blockingTransport struct {
	recordingTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		recordingTransport: recordingTransport{done: make(chan struct{})},
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
}

func (b *blockingTransport) Write(p []byte) (int, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.recordingTransport.Write(p)
}

// newIdentifiedConnection builds a Connection with a negotiated identity on
// a recording transport, closing it when the test ends.
func newIdentifiedConnection(t *testing.T, name, room string) (*Connection, *recordingTransport) {
	t.Helper()
	tr := newRecordingTransport()
	cfg := NewConfig()
	c := NewConnection(tr, "test", *cfg, discardLogger())
	c.setIdentity(name, room)
	t.Cleanup(c.Close)
	return c, tr
}

// recordingMirror keeps every published event.
type recordingMirror struct {
	mu     sync.Mutex
	events []MirrorEvent
	closed bool
	err    error
}

func (m *recordingMirror) Publish(_ context.Context, event MirrorEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *recordingMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *recordingMirror) snapshot() []MirrorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MirrorEvent(nil), m.events...)
}

var errMirrorDown = errors.New("mirror down")

// stalledMirror blocks every Publish until its context ends, like a Redis
// server that accepted the connection and stopped answering.
type stalledMirror struct {
	mu        sync.Mutex
	started   int
	closed    bool
	published chan struct{}
}

func newStalledMirror() *stalledMirror {
	return &stalledMirror{published: make(chan struct{}, 64)}
}

func (m *stalledMirror) Publish(ctx context.Context, _ MirrorEvent) error {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *stalledMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *stalledMirror) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
