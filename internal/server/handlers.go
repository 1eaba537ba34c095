// Package server exposes HTTP handlers, including the WebSocket bridge to the
// line protocol, health checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades GET /ws requests and runs a chat session over the
// upgraded connection, exactly as if it had arrived on the TCP listener.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	s.log.Debug("websocket client connected", "addr", r.RemoteAddr)
	s.ServeTransport(newWSTransport(conn, s.cfg.MaxLineLength), r.RemoteAddr)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

// TestPageHandler serves a minimal browser client for the /ws bridge.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("error writing test page", "err", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 8px; overflow-y: scroll; white-space: pre-wrap; background: #f9f9f9; }
        input[type="text"] { width: 360px; padding: 4px; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>
    <div id="log"></div>
    <input type="text" id="line" placeholder="Name, then room, then messages or /users /help /quit" autofocus>
    <script>
        const log = document.getElementById('log');
        const line = document.getElementById('line');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        function append(text) {
            log.textContent += text;
            log.scrollTop = log.scrollHeight;
        }

        ws.onmessage = function(event) { append(event.data); };
        ws.onclose = function() { append('\n[connection closed]\n'); line.disabled = true; };

        line.addEventListener('keypress', function(e) {
            if (e.key === 'Enter' && ws.readyState === WebSocket.OPEN) {
                ws.send(line.value);
                line.value = '';
            }
        });
    </script>
</body>
</html>`
