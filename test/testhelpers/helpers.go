// Package testhelpers provides common utilities and helper functions for testing the chat relay.
//
// It starts real servers on loopback ports and offers line-protocol clients
// for TCP and WebSocket, plus small HTTP assertions shared by integration tests.
package testhelpers

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/server"
)

// TestOrigin is the Origin header accepted by servers from StartTestServer.
const TestOrigin = "http://localhost:8080"

// Timeout bounds every blocking helper.
const Timeout = 3 * time.Second

// StartTestServer starts a relay on loopback ephemeral ports and shuts it
// down when the test ends. mutate may adjust the configuration first.
func StartTestServer(t *testing.T, mutate func(*server.Config)) *server.Server {
	t.Helper()

	cfg := server.NewConfig()
	cfg.ChatAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = []string{TestOrigin}
	cfg.WriteTimeout = Timeout
	if mutate != nil {
		mutate(cfg)
	}

	srv := server.New(*cfg, server.NewLogger("test", io.Discard))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown(Timeout)
	})
	return srv
}

// HTTPURL returns the base URL of the server's HTTP side.
func HTTPURL(srv *server.Server) string {
	return "http://" + srv.HTTPAddr().String()
}

// WebSocketURL returns the /ws endpoint of the server.
func WebSocketURL(srv *server.Server) string {
	return "ws://" + srv.HTTPAddr().String() + "/ws"
}

// ChatClient is a line-protocol client over TCP.
type ChatClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// DialChat connects to the relay's TCP listener.
func DialChat(t *testing.T, srv *server.Server) *ChatClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), Timeout)
	if err != nil {
		t.Fatalf("Failed to dial chat server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &ChatClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Send writes one line terminated by a newline.
func (c *ChatClient) Send(line string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(Timeout))
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// TrySend writes one line and returns any error instead of failing the
// test, for use from helper goroutines.
func (c *ChatClient) TrySend(line string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(Timeout))
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// Expect reads exactly len(want) bytes and fails the test if they differ.
func (c *ChatClient) Expect(want string) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(Timeout))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(c.r, got); err != nil {
		c.t.Fatalf("Failed waiting for %q: %v (got %q)", want, err, got)
	}
	if string(got) != want {
		c.t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectClosed fails the test unless the server closes the connection.
func (c *ChatClient) ExpectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(Timeout))
	b, err := c.r.ReadByte()
	if err == nil {
		c.t.Fatalf("Expected connection to be closed, got byte %q", b)
	}
	if err != io.EOF && !strings.Contains(err.Error(), "reset") {
		c.t.Fatalf("Expected EOF, got %v", err)
	}
}

// Negotiate answers the name and room prompts.
func (c *ChatClient) Negotiate(name, room string) {
	c.t.Helper()
	c.Expect(server.PromptName)
	c.Send(name)
	c.Expect(server.PromptRoom)
	c.Send(room)
}

// Join negotiates and consumes the join announcement and welcome line.
func (c *ChatClient) Join(name, room string) {
	c.t.Helper()
	c.Negotiate(name, room)
	c.Expect(server.JoinAnnouncement(name, room))
	c.Expect(server.WelcomeLine(room))
}

// Close closes the client side of the connection.
func (c *ChatClient) Close() error {
	return c.conn.Close()
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ExpectFrame reads one WebSocket text frame and compares it with want.
func ExpectFrame(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(Timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed waiting for frame %q: %v", want, err)
	}
	if string(data) != want {
		t.Fatalf("Expected frame %q, got %q", want, data)
	}
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
