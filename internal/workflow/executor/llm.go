package executor

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
	"github.com/loomwork/loom/internal/workflow/resolver"
)

// LLMExecutor runs llm-kind nodes by resolving their message templates and
// delegating the completion call to an LLMCollaborator (§4.3).
type LLMExecutor struct {
	Collaborator LLMCollaborator
}

func NewLLMExecutor(c LLMCollaborator) *LLMExecutor {
	return &LLMExecutor{Collaborator: c}
}

func (e *LLMExecutor) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	cfg, ok := node.Config.(workflow.LLMConfig)
	if !ok {
		return nil, fmt.Errorf("node %q: config is not an llm config", node.ID)
	}

	variables, outputs := runCtx.Snapshot()
	src := resolver.NewMapSource(variables, outputs)

	req := LLMRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Tools:       cfg.Tools,
	}
	for _, m := range cfg.Messages {
		content, err := resolver.ResolveString(m.Content, src)
		if err != nil {
			return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve message: %w", err))
		}
		req.Messages = append(req.Messages, ChatMessage{Role: m.Role, Content: content})
	}

	attempts := node.MaxAttempts
	if attempts < 1 {
		// §4.3 default retry budget for llm nodes when `retries` is unset.
		attempts = defaultLLMAttempts
	}

	var resp LLMResponse
	err := WithRetry(ctx, attempts, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.Collaborator.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, err)
	}

	return map[string]any{
		"content":     resp.Content,
		"stop_reason": resp.StopReason,
		"tool_calls":  resp.ToolCalls,
	}, nil
}

// defaultLLMAttempts is the §4.3 default retry budget for llm nodes when
// the workflow doesn't set an explicit `retries` value.
const defaultLLMAttempts = 3
