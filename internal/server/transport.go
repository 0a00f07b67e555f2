package server

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsMaxFrameBytes = 64 << 10
	wsCloseWait     = time.Second
)

// wsTransport adapts a websocket connection to chat.Transport.
// Every frame is one text message; writes carry a deadline so a stalled peer fails the write.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	conn.SetReadLimit(wsMaxFrameBytes)
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame before dropping the connection. WriteControl may run
// concurrently with WriteMessage, so a superseding session can close this one directly.
func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseWait))
	return t.conn.Close()
}
