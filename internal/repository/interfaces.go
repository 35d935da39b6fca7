package repository

import (
	"context"

	"github.com/photosync/sync/internal/models"
)

// EntityRepo persists client-side entity snapshots so the store survives restart
type EntityRepo interface {
	LoadAll(ctx context.Context) ([]*models.Entity, error)
	Save(ctx context.Context, entity *models.Entity) error
	Remove(ctx context.Context, id string) (bool, error)
}

// JournalRepo persists the client-side mutation journal
type JournalRepo interface {
	LoadAll(ctx context.Context) ([]*models.MutationLogEntry, error)
	Append(ctx context.Context, entry *models.MutationLogEntry) error
	Update(ctx context.Context, entry *models.MutationLogEntry) error
	Delete(ctx context.Context, id string) (bool, error)
}

// ServerEntityRepo is the reference sync server's authoritative entity store.
// Applied mutations are recorded keyed by (entityId, op, baseVersion) so a
// crash-recovered resubmission replays the original result instead of
// double-applying.
type ServerEntityRepo interface {
	Get(ctx context.Context, id string) (*models.Entity, error)
	Upsert(ctx context.Context, entity *models.Entity) error
	CountByType(ctx context.Context) (map[string]int, error)
	MaxVersion(ctx context.Context) (int64, error)
	GetAppliedResult(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64) (*models.MutationResult, error)
	RecordApplied(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64, result *models.MutationResult) error
}

// DeviceRepo stores registered device credentials for sync authentication
type DeviceRepo interface {
	Get(ctx context.Context, id string) (*models.Device, error)
	Add(ctx context.Context, device *models.Device) error
	Touch(ctx context.Context, id string) error
}
