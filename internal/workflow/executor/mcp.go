package executor

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
	"github.com/loomwork/loom/internal/workflow/resolver"
)

// McpExecutor runs mcp-kind nodes by resolving tool arguments and
// delegating the call to a ToolCaller (the tool-server connection
// manager in internal/mcp), which performs server selection/auto-discovery
// when ServerID is empty (§4.5).
type McpExecutor struct {
	Caller ToolCaller
}

func NewMcpExecutor(c ToolCaller) *McpExecutor {
	return &McpExecutor{Caller: c}
}

func (e *McpExecutor) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	cfg, ok := node.Config.(workflow.McpConfig)
	if !ok {
		return nil, fmt.Errorf("node %q: config is not an mcp config", node.ID)
	}

	variables, outputs := runCtx.Snapshot()
	src := resolver.NewMapSource(variables, outputs)

	args, err := resolver.Resolve(anyMap(cfg.Arguments), src)
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve arguments: %w", err))
	}
	resolvedArgs, _ := args.(map[string]any)

	attempts := node.MaxAttempts
	if attempts < 1 {
		// §4.3 default retry budget for mcp nodes when `retries` is unset.
		attempts = defaultMcpAttempts
	}

	var result any
	err = WithRetry(ctx, attempts, func(ctx context.Context) error {
		var callErr error
		result, callErr = e.Caller.CallTool(ctx, cfg.ServerID, cfg.ToolName, resolvedArgs)
		return callErr
	})
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, err)
	}

	return result, nil
}

// defaultMcpAttempts is the §4.3 default retry budget for mcp nodes when
// the workflow doesn't set an explicit `retries` value.
const defaultMcpAttempts = 1

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
