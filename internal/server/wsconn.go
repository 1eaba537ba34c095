package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a WebSocket connection to the line protocol. Each
// inbound text frame reads as one line (a newline is appended unless the
// frame already ends with one) and each queued reply goes out as one frame.
type wsTransport struct {
	conn     *websocket.Conn
	frame    io.Reader
	lastByte byte
}

// wsFrameLimitFactor bounds a single inbound frame at this many line
// buffers. Anything under the bound is split into buffer-sized lines by the
// Connection reader, the same as on TCP.
const wsFrameLimitFactor = 64

func newWSTransport(conn *websocket.Conn, maxLine int) *wsTransport {
	conn.SetReadLimit(int64(maxLine) * wsFrameLimitFactor)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if t.frame == nil {
			kind, r, err := t.conn.NextReader()
			if err != nil {
				return 0, translateWSError(err)
			}
			if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
				continue
			}
			t.frame = r
			t.lastByte = '\n'
		}

		n, err := t.frame.Read(p)
		if n > 0 {
			t.lastByte = p[n-1]
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			t.frame = nil
			if t.lastByte != '\n' {
				t.lastByte = '\n'
				p[0] = '\n'
				return 1, nil
			}
			continue
		}
		if err != nil {
			return 0, translateWSError(err)
		}
	}
}

func (t *wsTransport) Write(p []byte) (int, error) {
	if err := t.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

func (t *wsTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

// translateWSError maps an orderly close from the peer to io.EOF so the
// session reports it as a disconnect, the same as a TCP FIN.
func translateWSError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
