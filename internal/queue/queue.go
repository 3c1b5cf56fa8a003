// Package queue enqueues workflow run execution jobs via asynq, grounded
// on the teacher's pkg/queue/client.go EnqueueWorkflowExecution but
// carrying a run id and resolved input variables instead of the teacher's
// workspace/trigger envelope.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loomwork/loom/internal/config"
)

const TypeRunExecution = "run:execution"

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Client enqueues run-execution jobs for workers to pick up.
type Client struct {
	client *asynq.Client
}

func NewClient(cfg *config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// RunExecutionPayload is the job body a worker decodes to start or resume
// a run (§4.4).
type RunExecutionPayload struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	TenantID   string         `json:"tenant_id"`
	Resume     bool           `json:"resume"`
	Definition map[string]any `json:"definition,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// EnqueueRunExecution schedules a run for immediate pickup.
func (c *Client) EnqueueRunExecution(ctx context.Context, payload RunExecutionPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}

	task := asynq.NewTask(TypeRunExecution, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0), // the scheduler owns node-level retry; asynq should not re-deliver a run
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	return c.client.EnqueueContext(ctx, task)
}

// EnqueuePriorityRunExecution schedules a run on the critical queue, which
// the worker serves ahead of the default queue.
func (c *Client) EnqueuePriorityRunExecution(ctx context.Context, payload RunExecutionPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}

	task := asynq.NewTask(TypeRunExecution, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	return c.client.EnqueueContext(ctx, task)
}
