// Package mcp implements the tool-server connection manager (§4.5): a
// JSON-RPC 2.0 client correlated over one of three transports (stdio,
// HTTP, WebSocket), grounded on goadesign-goa-ai's features/mcp/runtime
// rpc/stdiocaller/httpcaller and the teacher's gorilla/websocket client,
// repurposed from a server-hub dial to an outbound tool-server dial.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/loomwork/loom/internal/workflow/errs"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// hasID reports whether a raw incoming message carries an "id" field,
// distinguishing a correlated response from an unsolicited notification.
func hasID(raw []byte) bool {
	var probe struct {
		ID *uint64 `json:"id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.ID != nil
}

// Transport sends one JSON-RPC request and returns its raw response.
// Transports that support server push also deliver unsolicited messages to
// the handler registered via SetNotificationHandler; the HTTP transport,
// which the spec allows no push channel for, makes that a no-op.
type Transport interface {
	Call(ctx context.Context, request []byte) ([]byte, error)
	// Send delivers a one-way JSON-RPC notification (no id, no response
	// expected), used for client-to-server notifications like
	// `initialized` (§4.5 Connect step 4).
	Send(ctx context.Context, notification []byte) error
	SetNotificationHandler(handler func(method string, params json.RawMessage))
	Close() error
}

// Client is a correlated JSON-RPC 2.0 client over one Transport.
type Client struct {
	transport Transport
	nextID    atomic.Uint64
}

// NewClient wraps transport in a Client and wires its notification
// dispatch so raw bytes get decoded into (method, params) before onNotify
// is invoked.
func NewClient(transport Transport, onNotify func(method string, params json.RawMessage)) *Client {
	c := &Client{transport: transport}
	transport.SetNotificationHandler(func(method string, params json.RawMessage) {
		if onNotify != nil {
			onNotify(method, params)
		}
	})
	return c
}

// Call issues one JSON-RPC request and, if result is non-nil, decodes the
// response's result field into it.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	blob, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	raw, err := c.transport.Call(ctx, blob)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &errs.ProtocolError{Code: errs.CodeParseError, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.Error != nil {
		return &errs.ProtocolError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Notify sends a one-way JSON-RPC notification — no id, no reply expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	n := rpcNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		blob, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode notification params: %w", err)
		}
		n.Params = blob
	}

	blob, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return c.transport.Send(ctx, blob)
}

func (c *Client) Close() error {
	return c.transport.Close()
}
