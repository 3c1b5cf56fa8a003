package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomwork/loom/internal/pending"
)

// WebSocketTransport dials a tool server over ws(s):// and exchanges one
// JSON-RPC message per frame, grounded on the teacher's api/websocket
// Client ReadPump/WritePump/ping-pong loop but repurposed: the teacher
// dials IN to serve browser clients from a hub; this dials OUT to a tool
// server as the client (§4.5).
type WebSocketTransport struct {
	conn   *websocket.Conn
	writeM sync.Mutex

	pending *pending.Table[uint64, []byte]
	notify  func(method string, params json.RawMessage)

	closeOnce sync.Once
	closed    chan struct{}
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func NewWebSocketTransport(ctx context.Context, url string, header map[string][]string) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial tool server: %w", err)
	}

	t := &WebSocketTransport{
		conn:    conn,
		pending: pending.New[uint64, []byte](),
		closed:  make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go t.readPump()
	go t.pingLoop()
	return t, nil
}

func (t *WebSocketTransport) readPump() {
	defer close(t.closed)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			return
		}

		if hasID(raw) {
			var probe struct {
				ID uint64 `json:"id"`
			}
			if err := json.Unmarshal(raw, &probe); err != nil {
				continue
			}
			t.pending.Resolve(probe.ID, raw)
			continue
		}

		var n rpcNotification
		if err := json.Unmarshal(raw, &n); err != nil {
			continue
		}
		if t.notify != nil {
			t.notify(n.Method, n.Params)
		}
	}
}

func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.writeM.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeM.Unlock()
			if err != nil {
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *WebSocketTransport) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	t.notify = handler
}

func (t *WebSocketTransport) Call(ctx context.Context, request []byte) ([]byte, error) {
	var probe struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(request, &probe); err != nil {
		return nil, fmt.Errorf("request missing id: %w", err)
	}

	waitCh, err := t.pending.Register(probe.ID)
	if err != nil {
		return nil, err
	}

	t.writeM.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	writeErr := t.conn.WriteMessage(websocket.TextMessage, request)
	t.writeM.Unlock()
	if writeErr != nil {
		t.pending.Cancel(probe.ID)
		return nil, fmt.Errorf("write request: %w", writeErr)
	}

	select {
	case raw := <-waitCh:
		return raw, nil
	case <-ctx.Done():
		t.pending.Cancel(probe.ID)
		return nil, ctx.Err()
	case <-t.closed:
		return nil, fmt.Errorf("tool server connection closed")
	}
}

// Send writes a one-way notification frame without registering a
// correlation wait — no reply is expected.
func (t *WebSocketTransport) Send(ctx context.Context, notification []byte) error {
	t.writeM.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := t.conn.WriteMessage(websocket.TextMessage, notification)
	t.writeM.Unlock()
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}
