// Package workflow defines the DAG data model (§3): Workflow, Node, the
// per-kind NodeConfig sum type, and the in-memory run Context.
package workflow

import "time"

// Kind discriminates which executor a node is dispatched to (§3, Design Note §9).
type Kind string

const (
	KindLLM   Kind = "llm"
	KindTool  Kind = "tool"
	KindHuman Kind = "human"
	KindMCP   Kind = "mcp"
)

// Node is one vertex of a workflow DAG. Config is opaque to the scheduler
// and interpreted by the matching executor; it is parsed into the typed
// NodeConfig sum type by ParseWorkflow (Design Note §9) rather than
// inside each executor.
type Node struct {
	ID           string
	Kind         Kind
	RawConfig    map[string]any
	Config       NodeConfig
	Dependencies []string
	MaxAttempts  int // 0 means "use the executor's default"
}

// InputSpec describes one declared workflow input (§6).
type InputSpec struct {
	Type        string
	Description string
	Required    bool
	Default     any
}

// Workflow is an immutable DAG definition (§3).
type Workflow struct {
	ID          string
	Name        string
	Description string
	Version     int
	Inputs      map[string]InputSpec
	Vars        map[string]any
	Nodes       []*Node
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeConfig is the sum type Design Note §9 calls for: LlmConfig | ToolConfig
// | HumanConfig | McpConfig. Parsed once by ParseWorkflow from the
// node's raw JSON configuration.
type NodeConfig interface {
	nodeConfig()
}

// LLMConfig configures the LLM executor (§4.3).
type LLMConfig struct {
	Model       string
	Messages    []LLMMessage
	Temperature *float64
	MaxTokens   int
	Tools       []map[string]any
}

func (LLMConfig) nodeConfig() {}

// LLMMessage is one chat message; Content may contain resolver templates.
type LLMMessage struct {
	Role    string
	Content string
}

// ToolConfig configures the Tool executor, which delegates to the
// shell/container collaborator (§4.3, §6).
type ToolConfig struct {
	Executor   string // e.g. "shell" or "container"
	Command    string
	Args       []string
	Env        map[string]string
	WorkingDir string
	Timeout    time.Duration
	Image      string // container image, when Executor == "container"
}

func (ToolConfig) nodeConfig() {}

// HumanConfig configures the Human executor's pending-approval wait (§4.3).
type HumanConfig struct {
	Prompt    string
	Approvers []string
	Timeout   time.Duration
}

func (HumanConfig) nodeConfig() {}

// McpConfig configures the MCP executor's tool call (§4.3, §4.5).
type McpConfig struct {
	ServerID  string // optional; empty means auto-discovery by ToolName
	ToolName  string
	Arguments map[string]any
}

func (McpConfig) nodeConfig() {}
