package mcp

import "encoding/json"

// ToolDescriptor is one entry in a server's `tools/list` response,
// grounded on goadesign-goa-ai's rpc.go contentItem/toolsCallResult shapes.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// normalizeToolResult flattens an MCP tools/call result into a plain value
// workflow node outputs can reference: a single text block decodes as JSON
// if possible, otherwise as a raw string; multiple blocks decode as a list.
func normalizeToolResult(r callToolResult) any {
	if len(r.Content) == 1 {
		return decodeContentItem(r.Content[0])
	}
	out := make([]any, len(r.Content))
	for i, item := range r.Content {
		out[i] = decodeContentItem(item)
	}
	return out
}

func decodeContentItem(item contentItem) any {
	var asJSON any
	if err := json.Unmarshal([]byte(item.Text), &asJSON); err == nil {
		return asJSON
	}
	return item.Text
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      map[string]any `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      map[string]any `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

const protocolVersion = "2024-11-05"
