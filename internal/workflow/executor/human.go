package executor

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
	"github.com/loomwork/loom/internal/workflow/resolver"
)

// Decision is what resolves a pending human node.
type Decision struct {
	Approved bool
	Approver string
	Comment  string
}

// HumanExecutor suspends a human-kind node until an external Resolve call
// delivers a Decision, or the node's timeout elapses, grounded on the
// teacher's waiting-execution repository plus the generic pendingTable
// shared with the MCP transport's request correlation.
type HumanExecutor struct {
	Sink    ApprovalSink
	pending *pendingTable[string, Decision]
}

func NewHumanExecutor(sink ApprovalSink) *HumanExecutor {
	return &HumanExecutor{Sink: sink, pending: newPendingTable[string, Decision]()}
}

func key(runID, nodeID string) string {
	return runID + "/" + nodeID
}

// Resolve delivers an external decision for a pending human node. Returns
// false if no node is currently waiting under that key.
func (e *HumanExecutor) Resolve(runID, nodeID string, d Decision) bool {
	return e.pending.Resolve(key(runID, nodeID), d)
}

func (e *HumanExecutor) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	cfg, ok := node.Config.(workflow.HumanConfig)
	if !ok {
		return nil, fmt.Errorf("node %q: config is not a human config", node.ID)
	}

	variables, outputs := runCtx.Snapshot()
	src := resolver.NewMapSource(variables, outputs)
	prompt, err := resolver.ResolveString(cfg.Prompt, src)
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, fmt.Errorf("resolve prompt: %w", err))
	}

	k := key(runCtx.RunID, node.ID)
	waitCh, err := e.pending.Register(k)
	if err != nil {
		return nil, errs.NewExecutionError(node.ID, err)
	}

	if e.Sink != nil {
		if err := e.Sink.RecordPending(ctx, ApprovalRequest{
			RunID: runCtx.RunID, NodeID: node.ID, Prompt: prompt, Approvers: cfg.Approvers,
		}); err != nil {
			e.pending.Cancel(k)
			return nil, errs.NewExecutionError(node.ID, fmt.Errorf("record pending approval: %w", err))
		}
	}

	timeoutCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if e.Sink != nil {
			_ = e.Sink.ClearPending(context.Background(), runCtx.RunID, node.ID)
		}
	}()

	select {
	case d := <-waitCh:
		if !d.Approved {
			return nil, &errs.ExecutionError{NodeID: node.ID, Reason: errs.ApprovalRejected, Approver: d.Approver, Comment: d.Comment}
		}
		return map[string]any{"approved": true, "approver": d.Approver, "comment": d.Comment}, nil

	case <-timeoutCtx.Done():
		e.pending.Cancel(k)
		if ctx.Err() != nil {
			return nil, &errs.ExecutionError{NodeID: node.ID, Reason: errs.ApprovalCancelled}
		}
		return nil, &errs.ExecutionError{NodeID: node.ID, Reason: errs.ApprovalTimeout}
	}
}
