package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process Transport double so manager tests don't
// need a real subprocess, HTTP server, or websocket listener.
type fakeTransport struct {
	notify func(method string, params json.RawMessage)
	handle func(method string, params json.RawMessage) (any, *rpcError)
}

func (f *fakeTransport) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	f.notify = handler
}

func (f *fakeTransport) Call(ctx context.Context, request []byte) ([]byte, error) {
	var req rpcRequest
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, err
	}
	var rawParams json.RawMessage
	if req.Params != nil {
		rawParams, _ = json.Marshal(req.Params)
	}

	result, rpcErr := f.handle(req.Method, rawParams)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		resultBlob, _ := json.Marshal(result)
		resp.Result = resultBlob
	}
	return json.Marshal(resp)
}

func (f *fakeTransport) Send(ctx context.Context, notification []byte) error { return nil }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) emit(method string, params any) {
	if f.notify == nil {
		return
	}
	blob, _ := json.Marshal(params)
	f.notify(method, blob)
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	ft.handle = func(method string, params json.RawMessage) (any, *rpcError) {
		switch method {
		case "initialize":
			return initializeResult{ProtocolVersion: protocolVersion}, nil
		case "tools/list":
			return listToolsResult{Tools: []ToolDescriptor{{Name: "search"}}}, nil
		case "tools/call":
			return callToolResult{Content: []contentItem{{Type: "text", Text: `{"ok":true}`}}}, nil
		default:
			return nil, &rpcError{Code: -32601, Message: "method not found"}
		}
	}

	m := NewManager(time.Second, time.Second, nil, nil)
	m.mu.Lock()
	m.servers["srv1"] = &registeredServer{
		spec:      ServerSpec{ID: "srv1"},
		status:    StatusConnecting,
		transport: ft,
	}
	m.order = append(m.order, "srv1")
	m.mu.Unlock()

	rs := m.servers["srv1"]
	client := NewClient(ft, func(method string, _ json.RawMessage) { m.handleNotification("srv1", method) })
	rs.client = client

	ctx := context.Background()
	require.NoError(t, m.refreshTools(ctx, rs))
	rs.setStatus(StatusConnected, nil)

	return m, ft
}

func TestManagerCallToolByServerID(t *testing.T) {
	m, _ := newTestManager(t)

	out, err := m.CallTool(context.Background(), "srv1", "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestManagerCallToolAutoDiscovery(t *testing.T) {
	m, _ := newTestManager(t)

	out, err := m.CallTool(context.Background(), "", "search", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestManagerCallToolUnknownToolFails(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CallTool(context.Background(), "", "missing", nil)
	assert.Error(t, err)
}

func TestManagerChangedNotificationRefreshesTools(t *testing.T) {
	m, ft := newTestManager(t)

	ft.handle = func(method string, params json.RawMessage) (any, *rpcError) {
		if method == "tools/list" {
			return listToolsResult{Tools: []ToolDescriptor{{Name: "search"}, {Name: "fetch"}}}, nil
		}
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}

	ft.emit("tools/list_changed", map[string]any{})
	time.Sleep(10 * time.Millisecond)

	_, tools, err := m.Status("srv1")
	require.NoError(t, err)
	require.Len(t, tools, 2)
}

func TestIsChangedNotification(t *testing.T) {
	assert.True(t, isChangedNotification("tools/list_changed"))
	assert.False(t, isChangedNotification("tools/list"))
}
