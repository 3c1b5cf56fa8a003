package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwork/loom/internal/models"
)

// RunRepository persists run and run-node state, satisfying the scheduler's
// persistence collaborator surface (§6): upsertRunNode, updateRunStatus,
// loadRun, loadRunNodes, listInterruptedRuns.
type RunRepository struct {
	*BaseRepository[models.Run, string]
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{BaseRepository: NewBaseRepository[models.Run, string](db)}
}

// CreateRun persists a new run row with the status the caller set on it.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.Run) error {
	return r.Create(ctx, run)
}

// LoadRun fetches a run by id without its nodes.
func (r *RunRepository) LoadRun(ctx context.Context, runID string) (*models.Run, error) {
	return r.FindByID(ctx, runID)
}

// LoadRunNodes fetches every persisted node-execution row for a run, the
// state a resumed run rebuilds its completed/failed sets from.
func (r *RunRepository) LoadRunNodes(ctx context.Context, runID string) ([]models.RunNode, error) {
	var rows []models.RunNode
	err := r.DB().WithContext(ctx).Where("run_id = ?", runID).Find(&rows).Error
	return rows, err
}

// UpsertRunNode writes one node's current execution state, keyed on
// (run_id, node_id), overwriting the fields a re-attempt or retry changes.
func (r *RunRepository) UpsertRunNode(ctx context.Context, node *models.RunNode) error {
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "node_id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"status", "attempts", "output", "error", "input_hash", "started_at", "ended_at", "updated_at"},
		),
	}).Create(node).Error
}

// UpdateRunStatus transitions a run's status, stamping started_at/ended_at
// and recording a terminal error when applicable. A transition to a
// terminal status applies only while the run is not already terminal, so a
// run that Cancel has marked cancelled is not overwritten by a late
// completed/failed write.
func (r *RunRepository) UpdateRunStatus(ctx context.Context, runID, status string, runErr error) error {
	terminal := []string{models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled}
	query := r.DB().WithContext(ctx).Model(&models.Run{}).Where("id = ?", runID)
	updates := map[string]any{"status": status, "updated_at": time.Now()}
	if status == models.RunStatusRunning {
		updates["started_at"] = time.Now()
	}
	if status == models.RunStatusCompleted || status == models.RunStatusFailed || status == models.RunStatusCancelled {
		updates["ended_at"] = time.Now()
		query = query.Where("status NOT IN ?", terminal)
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
	}
	return query.Updates(updates).Error
}

// CompareAndSetStatus transitions a run to newStatus only if its current
// status matches expected, the compare-and-set used by cancellation so a
// run that already finished can't be marked cancelled out from under it.
func (r *RunRepository) CompareAndSetStatus(ctx context.Context, runID, expected, newStatus string) (bool, error) {
	result := r.DB().WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND status = ?", runID, expected).
		Updates(map[string]any{"status": newStatus, "updated_at": time.Now()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListInterruptedRuns returns runs left in `running` status, the set a
// worker resumes on startup after a crash (§4.4).
func (r *RunRepository) ListInterruptedRuns(ctx context.Context) ([]models.Run, error) {
	var rows []models.Run
	err := r.DB().WithContext(ctx).Where("status = ?", models.RunStatusRunning).Find(&rows).Error
	return rows, err
}
