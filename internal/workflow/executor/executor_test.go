package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
)

type fakeLLM struct {
	calls int
	fail  int
	resp  LLMResponse
	err   error
}

func (f *fakeLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	f.calls++
	if f.calls <= f.fail {
		return LLMResponse{}, f.err
	}
	return f.resp, nil
}

func TestLLMExecutorResolvesMessagesAndReturnsContent(t *testing.T) {
	fake := &fakeLLM{resp: LLMResponse{Content: "hi acme", StopReason: "end_turn"}}
	e := NewLLMExecutor(fake)

	runCtx := workflow.NewContext("run1", "wf1", "tenant1", map[string]any{"tenant": "acme"})
	node := &workflow.Node{
		ID:   "n1",
		Kind: workflow.KindLLM,
		Config: workflow.LLMConfig{
			Model:    "claude",
			Messages: []workflow.LLMMessage{{Role: "user", Content: "hello ${variables.tenant}"}},
		},
	}

	out, err := e.Execute(context.Background(), runCtx, node)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "hi acme", m["content"])
}

func TestLLMExecutorRetriesThenFails(t *testing.T) {
	fake := &fakeLLM{fail: 2, err: errors.New("rate limited")}
	e := NewLLMExecutor(fake)

	runCtx := workflow.NewContext("run1", "wf1", "", nil)
	node := &workflow.Node{ID: "n1", Kind: workflow.KindLLM, MaxAttempts: 2, Config: workflow.LLMConfig{Model: "claude"}}

	_, err := e.Execute(context.Background(), runCtx, node)
	require.Error(t, err)
	var execErr *errs.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 2, fake.calls)
}

type fakeShell struct {
	result CommandResult
	err    error
}

func (f *fakeShell) Run(ctx context.Context, req CommandRequest) (CommandResult, error) {
	return f.result, f.err
}

func TestToolExecutorResolvesArgsAndReturnsOutput(t *testing.T) {
	fake := &fakeShell{result: CommandResult{Stdout: "ok", ExitCode: 0}}
	e := NewToolExecutor(fake)

	runCtx := workflow.NewContext("run1", "wf1", "", map[string]any{"name": "bob"})
	node := &workflow.Node{
		ID:   "n1",
		Kind: workflow.KindTool,
		Config: workflow.ToolConfig{
			Command: "echo",
			Args:    []string{"${variables.name}"},
		},
	}

	out, err := e.Execute(context.Background(), runCtx, node)
	require.NoError(t, err)
	m := out.(map[string]any)
	assert.Equal(t, "ok", m["stdout"])
}

func TestHumanExecutorResolvesOnApproval(t *testing.T) {
	e := NewHumanExecutor(nil)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)
	node := &workflow.Node{ID: "approve1", Kind: workflow.KindHuman, Config: workflow.HumanConfig{Prompt: "ok?"}}

	done := make(chan struct{})
	var out any
	var execErr error
	go func() {
		out, execErr = e.Execute(context.Background(), runCtx, node)
		close(done)
	}()

	for !e.Resolve("run1", "approve1", Decision{Approved: true, Approver: "alice"}) {
	}
	<-done

	require.NoError(t, execErr)
	m := out.(map[string]any)
	assert.Equal(t, true, m["approved"])
	assert.Equal(t, "alice", m["approver"])
}

func TestHumanExecutorRejection(t *testing.T) {
	e := NewHumanExecutor(nil)
	runCtx := workflow.NewContext("run1", "wf1", "", nil)
	node := &workflow.Node{ID: "approve1", Kind: workflow.KindHuman, Config: workflow.HumanConfig{Prompt: "ok?"}}

	done := make(chan struct{})
	var execErr error
	go func() {
		_, execErr = e.Execute(context.Background(), runCtx, node)
		close(done)
	}()

	for !e.Resolve("run1", "approve1", Decision{Approved: false, Approver: "alice", Comment: "no"}) {
	}
	<-done

	require.Error(t, execErr)
	var ee *errs.ExecutionError
	require.ErrorAs(t, execErr, &ee)
	assert.Equal(t, errs.ApprovalRejected, ee.Reason)
}

type fakeCaller struct {
	gotServer string
	gotTool   string
	gotArgs   map[string]any
	result    any
	err       error
}

func (f *fakeCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (any, error) {
	f.gotServer = serverID
	f.gotTool = toolName
	f.gotArgs = arguments
	return f.result, f.err
}

func TestMcpExecutorResolvesArgumentsAndDelegates(t *testing.T) {
	fake := &fakeCaller{result: map[string]any{"ok": true}}
	e := NewMcpExecutor(fake)

	runCtx := workflow.NewContext("run1", "wf1", "", map[string]any{"q": "go"})
	node := &workflow.Node{
		ID:   "n1",
		Kind: workflow.KindMCP,
		Config: workflow.McpConfig{
			ToolName:  "search",
			Arguments: map[string]any{"query": "${variables.q}"},
		},
	}

	out, err := e.Execute(context.Background(), runCtx, node)
	require.NoError(t, err)
	assert.Equal(t, "search", fake.gotTool)
	assert.Equal(t, "go", fake.gotArgs["query"])
	assert.Equal(t, map[string]any{"ok": true}, out)
}
