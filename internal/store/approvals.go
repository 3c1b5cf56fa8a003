package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/loomwork/loom/internal/models"
	"github.com/loomwork/loom/internal/workflow/executor"
)

// ApprovalRepository marks a run node as waiting_approval while a human
// node is suspended, satisfying executor.ApprovalSink so an external API
// can list and resolve pending approvals across worker restarts, grounded
// on the teacher's WaitingExecutionRepository.
type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

func (r *ApprovalRepository) RecordPending(ctx context.Context, req executor.ApprovalRequest) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.RunNode{}).
		Where("run_id = ? AND node_id = ?", req.RunID, req.NodeID).
		Updates(map[string]any{
			"status":     models.NodeStatusWaitingApproval,
			"updated_at": now,
		}).Error
}

func (r *ApprovalRepository) ClearPending(ctx context.Context, runID, nodeID string) error {
	return r.db.WithContext(ctx).Model(&models.RunNode{}).
		Where("run_id = ? AND node_id = ? AND status = ?", runID, nodeID, models.NodeStatusWaitingApproval).
		Updates(map[string]any{
			"status":     models.NodeStatusRunning,
			"updated_at": time.Now(),
		}).Error
}

// ListPendingApprovals returns every node currently waiting on a human
// decision, across all runs — what an approval-listing API paginates over.
func (r *ApprovalRepository) ListPendingApprovals(ctx context.Context) ([]models.RunNode, error) {
	var rows []models.RunNode
	err := r.db.WithContext(ctx).Where("status = ?", models.NodeStatusWaitingApproval).Find(&rows).Error
	return rows, err
}
