package workflow

import "sync"

// Context carries one run's identity plus its live variable and output
// state, the way the teacher's RuntimeContext does, but guarded by a single
// mutex instead of sync.Map since the resolver reads the whole map shape
// (not just one key) on every resolution (§3).
type Context struct {
	RunID      string
	WorkflowID string
	TenantID   string

	mu        sync.RWMutex
	variables map[string]any
	outputs   map[string]any
}

// NewContext builds a run Context seeded with the workflow's resolved input
// values, exposed to the resolver as `variables`.
func NewContext(runID, workflowID, tenantID string, variables map[string]any) *Context {
	if variables == nil {
		variables = map[string]any{}
	}
	return &Context{
		RunID:      runID,
		WorkflowID: workflowID,
		TenantID:   tenantID,
		variables:  variables,
		outputs:    map[string]any{},
	}
}

// SetOutput records the value a node produced, available to downstream
// nodes as `${outputs.<nodeId>...}`.
func (c *Context) SetOutput(nodeID string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[nodeID] = value
}

// Output returns the recorded value for nodeID, if any.
func (c *Context) Output(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[nodeID]
	return v, ok
}

// Variable returns the current value of a workflow-level variable.
func (c *Context) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// Snapshot returns copies of the outputs and variables maps, safe for the
// resolver to walk without holding the Context's lock.
func (c *Context) Snapshot() (variables map[string]any, outputs map[string]any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	variables = make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		variables[k] = v
	}
	outputs = make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		outputs[k] = v
	}
	return variables, outputs
}
