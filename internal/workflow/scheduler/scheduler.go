// Package scheduler runs a workflow's DAG to completion: it continuously
// recomputes the runnable set against live completed/running state and
// dispatches up to maxConcurrent nodes at once, rather than the teacher's
// per-level WaitGroup barrier — a node three levels deep can start the
// instant its own dependencies clear, without waiting for siblings at a
// shallower level to finish (§4.4, Design Note §9).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/loomwork/loom/internal/events"
	"github.com/loomwork/loom/internal/models"
	"github.com/loomwork/loom/internal/workflow"
	"github.com/loomwork/loom/internal/workflow/errs"
	"github.com/loomwork/loom/internal/workflow/executor"
	"github.com/loomwork/loom/internal/workflow/validate"
)

// Persistence is the narrow slice of internal/store a scheduler run needs.
// store.RunRepository satisfies this by method shape.
type Persistence interface {
	UpsertRunNode(ctx context.Context, node *models.RunNode) error
	UpdateRunStatus(ctx context.Context, runID, status string, runErr error) error
	CompareAndSetStatus(ctx context.Context, runID, expected, newStatus string) (bool, error)
}

// Scheduler owns one worker process's concurrent DAG executors.
type Scheduler struct {
	registry      *executor.Registry
	persistence   Persistence
	publisher     *events.Publisher
	maxConcurrent int
	nodeTimeout   time.Duration

	mu          sync.Mutex
	cancelFuncs map[string]context.CancelFunc
}

func New(registry *executor.Registry, persistence Persistence, publisher *events.Publisher, maxConcurrent int, nodeTimeout time.Duration) *Scheduler {
	return &Scheduler{
		registry:      registry,
		persistence:   persistence,
		publisher:     publisher,
		maxConcurrent: maxConcurrent,
		nodeTimeout:   nodeTimeout,
		cancelFuncs:   make(map[string]context.CancelFunc),
	}
}

// Cancel compare-and-sets the run from running to cancelled and, if a
// scheduler on this process currently owns it, cancels its context
// immediately. A scheduler on another process learns of the cancellation
// only through the TypeRunCancelled event published here on the run's
// Redis event channel, which Execute's subscriber turns into a local
// cancel; its dispatch loop does not read the run's persisted status.
func (s *Scheduler) Cancel(ctx context.Context, runID string) (bool, error) {
	ok, err := s.persistence.CompareAndSetStatus(ctx, runID, models.RunStatusRunning, models.RunStatusCancelled)
	if err != nil || !ok {
		return ok, err
	}

	s.mu.Lock()
	cancel, local := s.cancelFuncs[runID]
	s.mu.Unlock()
	if local {
		cancel()
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{Type: events.TypeRunCancelled, RunID: runID})
	}
	return true, nil
}

// runState holds the mutable dispatch bookkeeping for one Execute call.
type runState struct {
	mu        sync.Mutex
	completed map[string]bool
	running   map[string]bool
	failed    map[string]bool
}

// Execute runs w to completion (or failure, or cancellation) against
// runCtx. preCompleted seeds already-finished nodes for a resumed run
// (§4.4 resume-from-checkpoint); pass nil for a fresh run.
func (s *Scheduler) Execute(ctx context.Context, w *workflow.Workflow, runCtx *workflow.Context, preCompleted map[string]bool) error {
	if err := validate.Validate(w); err != nil {
		return err
	}

	runCtx2, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancelFuncs[runCtx.RunID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancelFuncs, runCtx.RunID)
		s.mu.Unlock()
	}()

	stopWatch := s.watchDistributedCancel(runCtx2, cancel, runCtx.RunID)
	defer stopWatch()

	state := &runState{
		completed: map[string]bool{},
		running:   map[string]bool{},
		failed:    map[string]bool{},
	}
	for id, done := range preCompleted {
		if done {
			state.completed[id] = true
		}
	}

	if err := s.persistence.UpdateRunStatus(ctx, runCtx.RunID, models.RunStatusRunning, nil); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	s.emit(ctx, runCtx, events.TypeRunStarted, "", nil)

	completions := make(chan string, len(w.Nodes)+1)
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	dispatchNext := func() bool {
		state.mu.Lock()
		var runnable []*workflow.Node
		for _, n := range validate.Runnable(w, state.completed, state.running) {
			if !state.failed[n.ID] {
				runnable = append(runnable, n)
			}
		}
		for _, n := range runnable {
			state.running[n.ID] = true
		}
		state.mu.Unlock()

		if len(runnable) == 0 {
			return false
		}
		for _, n := range runnable {
			n := n
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runNode(runCtx2, runCtx, n, state, completions, sem)
			}()
		}
		return true
	}

	for {
		if runCtx2.Err() != nil {
			break
		}

		dispatched := dispatchNext()

		state.mu.Lock()
		stillRunning := len(state.running) > 0
		state.mu.Unlock()

		if !dispatched && !stillRunning {
			break
		}
		if !stillRunning {
			continue
		}

		select {
		case <-completions:
		case <-runCtx2.Done():
		}
	}

	wg.Wait()

	state.mu.Lock()
	failedCount := len(state.failed)
	state.mu.Unlock()

	if runCtx2.Err() != nil && ctx.Err() == nil {
		// cancelled via Cancel(), not via the caller's own context
		s.emit(ctx, runCtx, events.TypeRunCancelled, "", nil)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failedCount > 0 {
		runErr := fmt.Errorf("%d node(s) failed", failedCount)
		_ = s.persistence.UpdateRunStatus(ctx, runCtx.RunID, models.RunStatusFailed, runErr)
		s.emit(ctx, runCtx, events.TypeRunFailed, "", map[string]any{"failed_count": failedCount})
		return runErr
	}

	if err := s.persistence.UpdateRunStatus(ctx, runCtx.RunID, models.RunStatusCompleted, nil); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	s.emit(ctx, runCtx, events.TypeRunCompleted, "", nil)
	return nil
}

func (s *Scheduler) runNode(ctx context.Context, runCtx *workflow.Context, node *workflow.Node, state *runState, completions chan<- string, sem chan struct{}) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		state.mu.Lock()
		delete(state.running, node.ID)
		state.mu.Unlock()
		completions <- node.ID
		return
	}
	defer func() { <-sem }()

	nodeCtx := ctx
	var cancel context.CancelFunc
	if s.nodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, s.nodeTimeout)
		defer cancel()
	}

	_ = s.persistence.UpsertRunNode(ctx, &models.RunNode{RunID: runCtx.RunID, NodeID: node.ID, Status: models.NodeStatusRunning})
	s.emit(ctx, runCtx, events.TypeNodeStarted, node.ID, nil)

	output, err := s.registry.Execute(nodeCtx, runCtx, node)

	state.mu.Lock()
	delete(state.running, node.ID)
	if err != nil {
		state.failed[node.ID] = true
	} else {
		state.completed[node.ID] = true
	}
	state.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("run_id", runCtx.RunID).Str("node_id", node.ID).Msg("node execution failed")
		_ = s.persistence.UpsertRunNode(ctx, &models.RunNode{RunID: runCtx.RunID, NodeID: node.ID, Status: models.NodeStatusFailed, Error: describeErr(err)})
		s.emit(ctx, runCtx, events.TypeNodeFailed, node.ID, map[string]any{"error": describeErr(err)})
	} else {
		runCtx.SetOutput(node.ID, output)
		_ = s.persistence.UpsertRunNode(ctx, &models.RunNode{RunID: runCtx.RunID, NodeID: node.ID, Status: models.NodeStatusCompleted})
		s.emit(ctx, runCtx, events.TypeNodeCompleted, node.ID, nil)
	}

	completions <- node.ID
}

// watchDistributedCancel subscribes to the run's event channel so a
// cancel requested from another worker process (Cancel's
// compare-and-set succeeding there, then publishing) still reaches a
// scheduler running this Execute call on this process.
func (s *Scheduler) watchDistributedCancel(ctx context.Context, cancel context.CancelFunc, runID string) func() {
	if s.publisher == nil {
		return func() {}
	}
	sub := s.publisher.Subscribe(context.Background(), runID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := sub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := events.DecodeEvent(msg.Payload)
				if err == nil && ev.Type == events.TypeRunCancelled {
					cancel()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		_ = sub.Close()
		<-done
	}
}

func (s *Scheduler) emit(ctx context.Context, runCtx *workflow.Context, typ events.Type, nodeID string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, events.Event{
		Type:       typ,
		RunID:      runCtx.RunID,
		WorkflowID: runCtx.WorkflowID,
		NodeID:     nodeID,
		Payload:    payload,
	})
}

func describeErr(err error) string {
	if execErr, ok := err.(*errs.ExecutionError); ok {
		return execErr.Error()
	}
	return err.Error()
}
