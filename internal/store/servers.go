package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loomwork/loom/internal/models"
)

// ServerRepository persists registered tool server configuration and
// status, satisfying the connection manager's persistence collaborator
// surface (§4.5, §6): saveServer, updateServerStatus, loadServers.
type ServerRepository struct {
	*BaseRepository[models.RegisteredServer, string]
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{BaseRepository: NewBaseRepository[models.RegisteredServer, string](db)}
}

// SaveServer upserts a server's connection configuration.
func (r *ServerRepository) SaveServer(ctx context.Context, server *models.RegisteredServer) error {
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"transport", "command", "args", "url", "header", "updated_at"}),
	}).Create(server).Error
}

// UpdateServerStatus records a connection state transition (§4.5).
func (r *ServerRepository) UpdateServerStatus(ctx context.Context, serverID, status string, connErr error) error {
	updates := map[string]any{"status": status, "updated_at": time.Now()}
	if connErr != nil {
		updates["last_error"] = connErr.Error()
	} else {
		updates["last_error"] = ""
	}
	return r.DB().WithContext(ctx).Model(&models.RegisteredServer{}).Where("id = ?", serverID).Updates(updates).Error
}

// UpdateServerInfo persists the `initialize` handshake's serverInfo and the
// current tool catalog, so startup recovery has a cache to fall back on
// while a server is unreachable (§4.5, §6).
func (r *ServerRepository) UpdateServerInfo(ctx context.Context, serverID, name string, serverInfo models.JSON, tools models.JSONArray, connectedAt time.Time) error {
	updates := map[string]any{
		"name":         name,
		"server_info":  serverInfo,
		"tools":        tools,
		"connected_at": connectedAt,
		"updated_at":   time.Now(),
	}
	return r.DB().WithContext(ctx).Model(&models.RegisteredServer{}).Where("id = ?", serverID).Updates(updates).Error
}

// LoadServers returns every registered server for a tenant.
func (r *ServerRepository) LoadServers(ctx context.Context, tenantID string) ([]models.RegisteredServer, error) {
	var rows []models.RegisteredServer
	err := r.DB().WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rows).Error
	return rows, err
}

// LoadAllServers returns every registered server across all tenants, used
// by a single-process worker deployment that reconnects to every known
// tool server on startup regardless of tenant.
func (r *ServerRepository) LoadAllServers(ctx context.Context) ([]models.RegisteredServer, error) {
	var rows []models.RegisteredServer
	err := r.DB().WithContext(ctx).Find(&rows).Error
	return rows, err
}
