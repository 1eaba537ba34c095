package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/server"
	"github.com/Tyrowin/linechat/test/testhelpers"
)

// TestCapacityExhaustion fills the registry and verifies that the next
// validated admission is refused while existing sessions keep working.
func TestCapacityExhaustion(t *testing.T) {
	const capacity = 3
	srv := testhelpers.StartTestServer(t, func(cfg *server.Config) {
		cfg.MaxClients = capacity
	})

	members := make([]*testhelpers.ChatClient, 0, capacity)
	names := []string{"a", "b", "c"}
	for _, name := range names {
		c := testhelpers.DialChat(t, srv)
		c.Join(name, "lobby")
		for _, m := range members {
			m.Expect(server.JoinAnnouncement(name, "lobby"))
		}
		members = append(members, c)
	}

	extra := testhelpers.DialChat(t, srv)
	extra.Negotiate("d", "lobby")
	extra.Expect(server.ServerFullNotice)
	extra.ExpectClosed()

	members[0].Send("/users")
	members[0].Expect(server.FormatUserList(names))
}

// TestOversizedLinesAreSplit verifies that a line longer than the limit is
// relayed in limit-sized pieces rather than buffered without bound.
func TestOversizedLinesAreSplit(t *testing.T) {
	srv := testhelpers.StartTestServer(t, func(cfg *server.Config) {
		cfg.MaxLineLength = 32
	})

	alice := testhelpers.DialChat(t, srv)
	alice.Join("alice", "lobby")

	alice.Send(strings.Repeat("x", 40))
	alice.Expect(server.ChatLine("alice", strings.Repeat("x", 32)))
	alice.Expect(server.ChatLine("alice", strings.Repeat("x", 8)))
}

// TestOversizedWebSocketFramesAreSplit verifies the bridge relays an
// oversized frame in limit-sized pieces, exactly as TCP does.
func TestOversizedWebSocketFramesAreSplit(t *testing.T) {
	srv := testhelpers.StartTestServer(t, func(cfg *server.Config) {
		cfg.MaxLineLength = 32
	})

	ws, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(srv), testhelpers.TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer func() { _ = ws.Close() }()

	testhelpers.ExpectFrame(t, ws, server.PromptName)
	_ = ws.WriteMessage(websocket.TextMessage, []byte("alice"))
	testhelpers.ExpectFrame(t, ws, server.PromptRoom)
	_ = ws.WriteMessage(websocket.TextMessage, []byte("lobby"))
	testhelpers.ExpectFrame(t, ws, server.JoinAnnouncement("alice", "lobby"))
	testhelpers.ExpectFrame(t, ws, server.WelcomeLine("lobby"))

	bob := testhelpers.DialChat(t, srv)
	bob.Join("bob", "lobby")
	testhelpers.ExpectFrame(t, ws, server.JoinAnnouncement("bob", "lobby"))

	if err := ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 40))); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
	bob.Expect(server.ChatLine("alice", strings.Repeat("x", 32)))
	bob.Expect(server.ChatLine("alice", strings.Repeat("x", 8)))
}

// TestWebSocketOriginValidation verifies that the bridge enforces the
// configured origin allow-list.
func TestWebSocketOriginValidation(t *testing.T) {
	srv := testhelpers.StartTestServer(t, nil)
	url := testhelpers.WebSocketURL(srv)

	for _, origin := range []string{"", "http://evil.example", "not-a-url"} {
		conn, resp, err := testhelpers.ConnectWebSocket(url, origin)
		if err == nil {
			_ = conn.Close()
			t.Fatalf("Expected origin %q to be rejected", origin)
		}
		if resp != nil && resp.StatusCode != http.StatusForbidden {
			t.Errorf("Origin %q: expected status %d, got %d", origin, http.StatusForbidden, resp.StatusCode)
		}
	}

	conn, _, err := testhelpers.ConnectWebSocket(url, testhelpers.TestOrigin)
	if err != nil {
		t.Fatalf("Expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}
