package executor

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
	"github.com/loomwork/loom/internal/workflow/resolver"
)

// ToolExecutor runs tool-kind nodes by resolving command/args/env templates
// and delegating to a ShellCollaborator (§4.3).
type ToolExecutor struct {
	Collaborator ShellCollaborator
}

func NewToolExecutor(c ShellCollaborator) *ToolExecutor {
	return &ToolExecutor{Collaborator: c}
}

func (e *ToolExecutor) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	cfg, ok := node.Config.(workflow.ToolConfig)
	if !ok {
		return nil, fmt.Errorf("node %q: config is not a tool config", node.ID)
	}

	variables, outputs := runCtx.Snapshot()
	src := resolver.NewMapSource(variables, outputs)

	command, err := resolver.ResolveString(cfg.Command, src)
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve command: %w", err))
	}

	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		resolved, err := resolver.ResolveString(a, src)
		if err != nil {
			return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve arg %d: %w", i, err))
		}
		args[i] = resolved
	}

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		resolved, err := resolver.ResolveString(v, src)
		if err != nil {
			return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve env %q: %w", k, err))
		}
		env[k] = resolved
	}

	req := CommandRequest{
		Command:    command,
		Args:       args,
		Env:        env,
		WorkingDir: cfg.WorkingDir,
		Image:      cfg.Image,
	}

	attempts := node.MaxAttempts
	if attempts < 1 {
		// §4.3 default retry budget for tool nodes when `retries` is unset.
		attempts = defaultToolAttempts
	}

	var result CommandResult
	timeoutCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	err = WithRetry(timeoutCtx, attempts, func(ctx context.Context) error {
		var runErr error
		result, runErr = e.Collaborator.Run(ctx, req)
		// A non-zero exit code is a successful execution with a non-zero
		// status, not an error (§4.3) — only a transport/collaborator
		// failure (runErr) is retryable.
		return runErr
	})
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, err)
	}

	return map[string]any{
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
		"exit_code":   result.ExitCode,
		"duration_ms": result.Duration.Milliseconds(),
	}, nil
}

// defaultToolAttempts is the §4.3 default retry budget for tool nodes when
// the workflow doesn't set an explicit `retries` value.
const defaultToolAttempts = 2
