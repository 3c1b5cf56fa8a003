package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loomwork/loom/internal/resilience"
	"github.com/loomwork/loom/internal/workflow/errs"
)

// TransportKind selects which of the three supported transports a
// registered server is reached over (§4.5).
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportHTTP       TransportKind = "http"
	TransportWebSocket  TransportKind = "websocket"
)

// Status is a registered server's connection lifecycle state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ServerSpec is the persisted configuration needed to (re)connect to a
// tool server (§6 RegisteredServer row).
type ServerSpec struct {
	ID        string
	TenantID  string
	Transport TransportKind

	// stdio
	Command string
	Args    []string

	// http / websocket
	URL    string
	Header http.Header

	// CachedName, CachedInfo, and CachedTools seed a newly registered
	// server from its last-persisted state, so Status still reports the
	// last-known catalog if the handshake below fails to complete; CallTool
	// refuses any server that is not connected (§4.5 startup recovery).
	CachedName  string
	CachedInfo  map[string]any
	CachedTools []ToolDescriptor
}

type registeredServer struct {
	spec      ServerSpec
	client    *Client
	transport Transport

	mu          sync.RWMutex
	status      Status
	tools       []ToolDescriptor
	lastErr     error
	name        string
	serverInfo  map[string]any
	connectedAt time.Time
}

func (s *registeredServer) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *registeredServer) snapshotTools() []ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolDescriptor, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *registeredServer) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	s.lastErr = err
	s.mu.Unlock()
}

func (s *registeredServer) setTools(tools []ToolDescriptor) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *registeredServer) setInfo(name string, info map[string]any, connectedAt time.Time) {
	s.mu.Lock()
	s.name = name
	s.serverInfo = info
	s.connectedAt = connectedAt
	s.mu.Unlock()
}

func (s *registeredServer) snapshotInfo() (string, map[string]any, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name, s.serverInfo, s.connectedAt
}

// StatusChangeFunc is invoked whenever a registered server's connection
// status changes, so a caller can persist it (§6 updateServerStatus).
type StatusChangeFunc func(serverID string, status Status, err error)

// InfoUpdateFunc is invoked whenever a registered server's handshake
// `serverInfo` or tool catalog changes, so a caller can persist it as the
// RegisteredServer row's name/serverInfo/tools/connectedAt (§4.5, §6).
type InfoUpdateFunc func(serverID, name string, serverInfo map[string]any, tools []ToolDescriptor, connectedAt time.Time)

// Manager owns the set of registered tool servers: it dials each one's
// transport, performs the `initialize` handshake, discovers its tools, and
// serves CallTool on behalf of the MCP executor. Grounded structurally on
// the teacher's connection-holding hub pattern, but driving outbound tool
// servers rather than inbound browser clients (§4.5).
type Manager struct {
	initTimeout    time.Duration
	requestTimeout time.Duration
	onStatusChange StatusChangeFunc
	onInfoUpdate   InfoUpdateFunc

	mu       sync.RWMutex
	servers  map[string]*registeredServer
	order    []string // registration order, for deterministic auto-discovery tie-break (§4.5)
	breakers *resilience.Registry
}

func NewManager(initTimeout, requestTimeout time.Duration, onStatusChange StatusChangeFunc, onInfoUpdate InfoUpdateFunc) *Manager {
	return &Manager{
		initTimeout:    initTimeout,
		requestTimeout: requestTimeout,
		onStatusChange: onStatusChange,
		onInfoUpdate:   onInfoUpdate,
		servers:        make(map[string]*registeredServer),
		breakers:       resilience.NewRegistry(resilience.Config{Timeout: 30 * time.Second, FailureThreshold: 5}),
	}
}

// Register dials spec's transport, performs the initialize handshake, and
// discovers its tool catalog. The server is tracked in Connecting status
// immediately so concurrent callers see it, then promoted to Connected or
// Error once the handshake resolves.
func (m *Manager) Register(ctx context.Context, spec ServerSpec) error {
	rs := &registeredServer{spec: spec, status: StatusConnecting}
	if len(spec.CachedTools) > 0 {
		rs.tools = spec.CachedTools
	}
	if spec.CachedName != "" || spec.CachedInfo != nil {
		rs.name = spec.CachedName
		rs.serverInfo = spec.CachedInfo
	}

	m.mu.Lock()
	if _, exists := m.servers[spec.ID]; !exists {
		m.order = append(m.order, spec.ID)
	}
	m.servers[spec.ID] = rs
	m.mu.Unlock()
	m.report(spec.ID, StatusConnecting, nil)

	transport, err := m.dial(ctx, spec)
	if err != nil {
		rs.setStatus(StatusError, err)
		m.report(spec.ID, StatusError, err)
		return &errs.TransportError{ServerID: spec.ID, Err: err}
	}

	initCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	client := NewClient(transport, func(method string, _ json.RawMessage) {
		m.handleNotification(spec.ID, method)
	})

	var initResult initializeResult
	if err := client.Call(initCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      map[string]any{"name": "loom", "version": "1"},
	}, &initResult); err != nil {
		_ = transport.Close()
		rs.setStatus(StatusError, err)
		m.report(spec.ID, StatusError, err)
		return fmt.Errorf("initialize server %q: %w", spec.ID, err)
	}

	if err := client.Notify(initCtx, "notifications/initialized", nil); err != nil {
		log.Warn().Err(err).Str("server_id", spec.ID).Msg("failed to send initialized notification")
	}

	rs.client = client
	rs.transport = transport

	name, _ := initResult.ServerInfo["name"].(string)
	rs.setInfo(name, initResult.ServerInfo, time.Now())

	if err := m.refreshTools(ctx, rs); err != nil {
		log.Warn().Err(err).Str("server_id", spec.ID).Msg("initial tool discovery failed")
	}

	rs.setStatus(StatusConnected, nil)
	m.report(spec.ID, StatusConnected, nil)
	m.persistInfo(rs)
	return nil
}

func (m *Manager) dial(ctx context.Context, spec ServerSpec) (Transport, error) {
	switch spec.Transport {
	case TransportStdio:
		return NewStdioTransport(ctx, spec.Command, spec.Args...)
	case TransportHTTP:
		return NewHTTPTransport(spec.URL, m.requestTimeout, spec.Header), nil
	case TransportWebSocket:
		var header map[string][]string
		if spec.Header != nil {
			header = spec.Header
		}
		return NewWebSocketTransport(ctx, spec.URL, header)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", spec.Transport)
	}
}

func (m *Manager) refreshTools(ctx context.Context, rs *registeredServer) error {
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	var result listToolsResult
	if err := rs.client.Call(reqCtx, "tools/list", nil, &result); err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	rs.setTools(result.Tools)
	return nil
}

// handleNotification reacts to unsolicited server notifications. Any
// `*_changed` notification (tools/list_changed, resources/list_changed,
// ...) triggers a capability-cache refresh for that server (§4.5).
func (m *Manager) handleNotification(serverID, method string) {
	if !isChangedNotification(method) {
		return
	}
	m.mu.RLock()
	rs, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := m.refreshTools(context.Background(), rs); err != nil {
		log.Warn().Err(err).Str("server_id", serverID).Str("method", method).Msg("capability refresh failed")
		return
	}
	m.persistInfo(rs)
}

func isChangedNotification(method string) bool {
	return len(method) > len("_changed") && method[len(method)-len("_changed"):] == "_changed"
}

// Unregister disconnects and forgets a server.
func (m *Manager) Unregister(serverID string) error {
	m.mu.Lock()
	rs, ok := m.servers[serverID]
	delete(m.servers, serverID)
	for i, id := range m.order {
		if id == serverID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("server %q not registered", serverID)
	}
	m.breakers.Remove(serverID)
	if rs.transport != nil {
		return rs.transport.Close()
	}
	return nil
}

// CallTool invokes a tool on the named server, or — when serverID is empty
// — on whichever connected server advertises it (auto-discovery, §4.5).
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (any, error) {
	rs, err := m.resolveServer(serverID, toolName)
	if err != nil {
		return nil, err
	}
	if rs.snapshotStatus() != StatusConnected {
		return nil, &errs.TransportError{ServerID: rs.spec.ID, Err: fmt.Errorf("server not connected")}
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	breaker := m.breakers.Get(rs.spec.ID)
	raw, err := breaker.Call(reqCtx, func(callCtx context.Context) (any, error) {
		var result callToolResult
		if err := rs.client.Call(callCtx, "tools/call", map[string]any{
			"name":      toolName,
			"arguments": arguments,
		}, &result); err != nil {
			return nil, err
		}
		if result.IsError {
			return nil, &errs.ProtocolError{Code: errs.CodeToolExecution, Message: fmt.Sprintf("tool %q reported failure", toolName)}
		}
		return normalizeToolResult(result), nil
	})
	if err != nil {
		if err == resilience.ErrBreakerOpen {
			return nil, &errs.TransportError{ServerID: rs.spec.ID, Err: err}
		}
		return nil, err
	}
	return raw, nil
}

func (m *Manager) resolveServer(serverID, toolName string) (*registeredServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if serverID != "" {
		rs, ok := m.servers[serverID]
		if !ok {
			return nil, fmt.Errorf("server %q not registered", serverID)
		}
		return rs, nil
	}

	// §4.5: auto-discovery tie-breaking must be deterministic within a
	// process — iterate by registration order, not map order.
	for _, id := range m.order {
		rs, ok := m.servers[id]
		if !ok || rs.snapshotStatus() != StatusConnected {
			continue
		}
		for _, t := range rs.snapshotTools() {
			if t.Name == toolName {
				return rs, nil
			}
		}
	}
	return nil, &errs.ProtocolError{Code: errs.CodeToolNotFound, Message: fmt.Sprintf("no connected server advertises tool %q", toolName)}
}

// Status reports one server's connection state and cached tool catalog.
func (m *Manager) Status(serverID string) (Status, []ToolDescriptor, error) {
	m.mu.RLock()
	rs, ok := m.servers[serverID]
	m.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("server %q not registered", serverID)
	}
	return rs.snapshotStatus(), rs.snapshotTools(), nil
}

// BreakerState reports a server's circuit breaker state, for operator
// visibility into whether calls are currently being short-circuited.
func (m *Manager) BreakerState(serverID string) resilience.State {
	state, _ := m.breakers.State(serverID)
	return state
}

func (m *Manager) report(serverID string, status Status, err error) {
	if m.onStatusChange != nil {
		m.onStatusChange(serverID, status, err)
	}
}

func (m *Manager) persistInfo(rs *registeredServer) {
	if m.onInfoUpdate == nil {
		return
	}
	name, info, connectedAt := rs.snapshotInfo()
	m.onInfoUpdate(rs.spec.ID, name, info, rs.snapshotTools(), connectedAt)
}
