package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
)

func node(id string, deps ...string) *workflow.Node {
	return &workflow.Node{ID: id, Kind: workflow.KindTool, Dependencies: deps}
}

func TestValidateAcceptsDAG(t *testing.T) {
	w := &workflow.Workflow{Nodes: []*workflow.Node{
		node("a"),
		node("b", "a"),
		node("c", "a", "b"),
	}}
	assert.NoError(t, Validate(w))
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	w := &workflow.Workflow{Nodes: []*workflow.Node{
		node("a", "missing"),
	}}
	err := Validate(w)
	require.Error(t, err)
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "dangling_dependency", verr.Kind)
}

func TestValidateRejectsCycle(t *testing.T) {
	w := &workflow.Workflow{Nodes: []*workflow.Node{
		node("a", "b"),
		node("b", "a"),
	}}
	err := Validate(w)
	require.Error(t, err)
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cycle", verr.Kind)
}

func TestRunnableExcludesCompletedAndRunning(t *testing.T) {
	w := &workflow.Workflow{Nodes: []*workflow.Node{
		node("a"),
		node("b", "a"),
		node("c", "a"),
	}}

	completed := map[string]bool{"a": true}
	running := map[string]bool{"b": true}

	runnable := Runnable(w, completed, running)
	require.Len(t, runnable, 1)
	assert.Equal(t, "c", runnable[0].ID)
}

func TestRunnableWaitsForAllDependencies(t *testing.T) {
	w := &workflow.Workflow{Nodes: []*workflow.Node{
		node("a"),
		node("b"),
		node("c", "a", "b"),
	}}

	runnable := Runnable(w, map[string]bool{"a": true}, map[string]bool{})
	var ids []string
	for _, n := range runnable {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"b"}, ids)
}
