// Package events publishes workflow execution events, grounded on the
// teacher's worker/events.Publisher but fanned out over Redis pub/sub
// instead of an in-process-only channel, so the event stream reaches
// subscribers in any process, among them the scheduler's distributed
// cancellation watcher (Design Note §9).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Type discriminates the execution events a run emits.
type Type string

const (
	TypeRunStarted      Type = "run.started"
	TypeRunCompleted    Type = "run.completed"
	TypeRunFailed       Type = "run.failed"
	TypeRunCancelled    Type = "run.cancelled"
	TypeNodeStarted     Type = "node.started"
	TypeNodeCompleted   Type = "node.completed"
	TypeNodeFailed      Type = "node.failed"
	TypeNodeRetrying    Type = "node.retrying"
	TypeApprovalPending Type = "node.approval_pending"
	TypeApprovalResolved Type = "node.approval_resolved"
	TypeServerStatus    Type = "mcp.server_status"
)

// Event is one occurrence on the execution event stream.
type Event struct {
	Type       Type           `json:"type"`
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// channelPrefix namespaces the pub/sub channel per run so subscribers can
// follow a single execution without filtering the global stream.
const channelPrefix = "loom:events:"

// Publisher fans execution events out over Redis pub/sub.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish serializes and emits ev on the run's channel. Publish errors are
// logged, not returned, the same way the teacher's publisher treats the
// event stream as best-effort relative to the authoritative persisted state.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("run_id", ev.RunID).Msg("marshal event")
		return
	}
	if err := p.rdb.Publish(ctx, channelPrefix+ev.RunID, blob).Err(); err != nil {
		log.Error().Err(err).Str("run_id", ev.RunID).Msg("publish event")
	}
}

// Subscribe opens a subscription to a single run's event channel. The
// caller must call Close on the returned subscription when done.
func (p *Publisher) Subscribe(ctx context.Context, runID string) *redis.PubSub {
	return p.rdb.Subscribe(ctx, channelPrefix+runID)
}

// DecodeEvent parses one pub/sub message payload back into an Event.
func DecodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
