package executor

import (
	"context"
	"fmt"

	"github.com/loomwork/loom/internal/workflow"
)

// Executor runs one node to completion (including its own retries) and
// returns the value recorded as that node's output.
type Executor interface {
	Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error)
}

// Registry dispatches a node to the Executor registered for its Kind,
// grounded on the teacher's core.Registry global node registry but scoped
// to the four fixed kinds the model defines instead of an open type set.
type Registry struct {
	executors map[workflow.Kind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[workflow.Kind]Executor)}
}

func (r *Registry) Register(kind workflow.Kind, e Executor) {
	r.executors[kind] = e
}

func (r *Registry) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	e, ok := r.executors[node.Kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %q", node.Kind)
	}
	return e.Execute(ctx, runCtx, node)
}
