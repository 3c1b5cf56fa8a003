package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/models"
	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/executor"
)

type fakeExecutor struct {
	delay   time.Duration
	fail    bool
	onStart func(nodeID string)
}

func (f *fakeExecutor) Execute(ctx context.Context, runCtx *workflow.Context, node *workflow.Node) (any, error) {
	if f.onStart != nil {
		f.onStart(node.ID)
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.fail {
		return nil, fmt.Errorf("boom")
	}
	return node.ID, nil
}

type noopPersistence struct{}

func (noopPersistence) UpsertRunNode(ctx context.Context, node *models.RunNode) error { return nil }
func (noopPersistence) UpdateRunStatus(ctx context.Context, runID, status string, runErr error) error {
	return nil
}
func (noopPersistence) CompareAndSetStatus(ctx context.Context, runID, expected, newStatus string) (bool, error) {
	return true, nil
}

func buildRegistry(e executor.Executor) *executor.Registry {
	r := executor.NewRegistry()
	r.Register(workflow.KindTool, e)
	return r
}

func TestSchedulerRunsIndependentNodesConcurrently(t *testing.T) {
	var mu sync.Mutex
	var started []string
	fe := &fakeExecutor{delay: 20 * time.Millisecond, onStart: func(id string) {
		mu.Lock()
		started = append(started, id)
		mu.Unlock()
	}}

	w := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "a", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
		{ID: "b", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
	}}

	s := New(buildRegistry(fe), noopPersistence{}, nil, 2, 0)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)

	start := time.Now()
	err := s.Execute(context.Background(), w, runCtx, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 35*time.Millisecond, "independent nodes should run concurrently, not sequentially")
	assert.ElementsMatch(t, []string{"a", "b"}, started)
}

func TestSchedulerRespectsDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	fe := &fakeExecutor{delay: 5 * time.Millisecond, onStart: func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}}

	w := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "a", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
		{ID: "b", Kind: workflow.KindTool, Config: workflow.ToolConfig{}, Dependencies: []string{"a"}},
	}}

	s := New(buildRegistry(fe), noopPersistence{}, nil, 2, 0)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)

	err := s.Execute(context.Background(), w, runCtx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestSchedulerReturnsErrorWhenNodeFails(t *testing.T) {
	fe := &fakeExecutor{delay: time.Millisecond, fail: true}

	w := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "a", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
	}}

	s := New(buildRegistry(fe), noopPersistence{}, nil, 1, 0)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)

	err := s.Execute(context.Background(), w, runCtx, nil)
	require.Error(t, err)
}

func TestSchedulerResumesFromPreCompleted(t *testing.T) {
	var mu sync.Mutex
	var started []string
	fe := &fakeExecutor{delay: time.Millisecond, onStart: func(id string) {
		mu.Lock()
		started = append(started, id)
		mu.Unlock()
	}}

	w := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "a", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
		{ID: "b", Kind: workflow.KindTool, Config: workflow.ToolConfig{}, Dependencies: []string{"a"}},
	}}

	s := New(buildRegistry(fe), noopPersistence{}, nil, 2, 0)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)

	err := s.Execute(context.Background(), w, runCtx, map[string]bool{"a": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, started)
}

func TestSchedulerCancelStopsDispatch(t *testing.T) {
	fe := &fakeExecutor{delay: 200 * time.Millisecond}

	w := &workflow.Workflow{Nodes: []*workflow.Node{
		{ID: "a", Kind: workflow.KindTool, Config: workflow.ToolConfig{}},
	}}

	s := New(buildRegistry(fe), noopPersistence{}, nil, 1, 0)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = s.Cancel(context.Background(), "run1")
	}()

	err := s.Execute(context.Background(), w, runCtx, nil)
	assert.NoError(t, err)
}
