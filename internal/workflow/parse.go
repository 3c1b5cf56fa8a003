package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireWorkflow mirrors the JSON wire format of §6: a workflow document with
// an optional edges list that is folded into each node's Dependencies.
type wireWorkflow struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Version     int                      `json:"version"`
	Inputs      map[string]wireInputSpec `json:"inputs"`
	Vars        map[string]any           `json:"vars"`
	Nodes       []wireNode               `json:"nodes"`
	Edges       []wireEdge               `json:"edges"`
}

type wireInputSpec struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default"`
}

type wireNode struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Config       map[string]any `json:"config"`
	Dependencies []string       `json:"dependencies"`
	Retries      int            `json:"retries"`
}

type wireEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
}

// ParseWorkflow decodes a workflow definition document (§6) into the typed
// Workflow model, folding `edges` into each target node's Dependencies and
// parsing each node's raw config into its NodeConfig sum type member.
func ParseWorkflow(raw []byte) (*Workflow, error) {
	var w wireWorkflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	out := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Inputs:      map[string]InputSpec{},
		Vars:        w.Vars,
	}
	for name, spec := range w.Inputs {
		out.Inputs[name] = InputSpec{
			Type:        spec.Type,
			Description: spec.Description,
			Required:    spec.Required,
			Default:     spec.Default,
		}
	}

	deps := map[string][]string{}
	for _, n := range w.Nodes {
		deps[n.ID] = append([]string{}, n.Dependencies...)
	}
	for _, e := range w.Edges {
		deps[e.To] = append(deps[e.To], e.From)
	}

	for _, n := range w.Nodes {
		kind := Kind(n.Type)
		cfg, err := parseNodeConfig(kind, n.Config)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		out.Nodes = append(out.Nodes, &Node{
			ID:           n.ID,
			Kind:         kind,
			RawConfig:    n.Config,
			Config:       cfg,
			Dependencies: dedupe(deps[n.ID]),
			MaxAttempts:  n.Retries,
		})
	}

	return out, nil
}

func dedupe(ss []string) []string {
	if len(ss) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func parseNodeConfig(kind Kind, raw map[string]any) (NodeConfig, error) {
	blob, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode config: %w", err)
	}

	switch kind {
	case KindLLM:
		var wire struct {
			Model       string           `json:"model"`
			Messages    []LLMMessage     `json:"messages"`
			Temperature *float64         `json:"temperature"`
			MaxTokens   int              `json:"max_tokens"`
			Tools       []map[string]any `json:"tools"`
		}
		if err := json.Unmarshal(blob, &wire); err != nil {
			return nil, fmt.Errorf("llm config: %w", err)
		}
		return LLMConfig{
			Model:       wire.Model,
			Messages:    wire.Messages,
			Temperature: wire.Temperature,
			MaxTokens:   wire.MaxTokens,
			Tools:       wire.Tools,
		}, nil

	case KindTool:
		var wire struct {
			Executor   string            `json:"executor"`
			Command    string            `json:"command"`
			Args       []string          `json:"args"`
			Env        map[string]string `json:"env"`
			WorkingDir string            `json:"working_dir"`
			TimeoutSec float64           `json:"timeout_seconds"`
			Image      string            `json:"image"`
		}
		if err := json.Unmarshal(blob, &wire); err != nil {
			return nil, fmt.Errorf("tool config: %w", err)
		}
		executor := wire.Executor
		if executor == "" {
			executor = "shell"
		}
		return ToolConfig{
			Executor:   executor,
			Command:    wire.Command,
			Args:       wire.Args,
			Env:        wire.Env,
			WorkingDir: wire.WorkingDir,
			Timeout:    time.Duration(wire.TimeoutSec * float64(time.Second)),
			Image:      wire.Image,
		}, nil

	case KindHuman:
		var wire struct {
			Prompt     string   `json:"prompt"`
			Approvers  []string `json:"approvers"`
			TimeoutSec float64  `json:"timeout_seconds"`
		}
		if err := json.Unmarshal(blob, &wire); err != nil {
			return nil, fmt.Errorf("human config: %w", err)
		}
		return HumanConfig{
			Prompt:    wire.Prompt,
			Approvers: wire.Approvers,
			Timeout:   time.Duration(wire.TimeoutSec * float64(time.Second)),
		}, nil

	case KindMCP:
		var wire struct {
			ServerID  string         `json:"server_id"`
			ToolName  string         `json:"tool_name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(blob, &wire); err != nil {
			return nil, fmt.Errorf("mcp config: %w", err)
		}
		return McpConfig{
			ServerID:  wire.ServerID,
			ToolName:  wire.ToolName,
			Arguments: wire.Arguments,
		}, nil

	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
}
