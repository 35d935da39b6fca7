package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/photosync/sync/internal/models"
)

// ServerEntityRepository is the SQLite implementation of the sync server's
// authoritative entity store
type ServerEntityRepository struct {
	db *sql.DB
}

// NewServerEntityRepository creates a new ServerEntityRepository
func NewServerEntityRepository(db *sql.DB) *ServerEntityRepository {
	return &ServerEntityRepository{db: db}
}

// Get retrieves an entity by id, tombstones included
func (r *ServerEntityRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, entity_type, version, updated_at, deleted, fields_json
		FROM entities WHERE id = ?
	`

	entity, err := scanEntity(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Upsert inserts or replaces an entity
func (r *ServerEntityRepository) Upsert(ctx context.Context, entity *models.Entity) error {
	fieldsJSON, err := json.Marshal(entity.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (id, entity_type, version, updated_at, deleted, fields_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			fields_json = excluded.fields_json
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.ID,
		string(entity.Type),
		entity.Version,
		entity.UpdatedAt,
		boolToInt(entity.Deleted),
		string(fieldsJSON),
	)
	return err
}

// CountByType returns live entity counts keyed by entity type
func (r *ServerEntityRepository) CountByType(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT entity_type, COUNT(*)
		FROM entities WHERE deleted = 0
		GROUP BY entity_type
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var entityType string
		var count int
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, err
		}
		counts[entityType] = count
	}

	return counts, rows.Err()
}

// MaxVersion returns the highest entity version in the store
func (r *ServerEntityRepository) MaxVersion(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(version) FROM entities`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// GetAppliedResult returns the recorded result of a previously applied
// mutation, or nil if the mutation has not been seen before
func (r *ServerEntityRepository) GetAppliedResult(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64) (*models.MutationResult, error) {
	query := `
		SELECT result_json FROM applied_mutations
		WHERE entity_id = ? AND op = ? AND base_version = ?
	`

	var resultJSON string
	err := r.db.QueryRowContext(ctx, query, entityID, string(op), baseVersion).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result models.MutationResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordApplied stores the result of an applied mutation for idempotent replay
func (r *ServerEntityRepository) RecordApplied(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64, result *models.MutationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO applied_mutations (entity_id, op, base_version, result_json, applied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, op, base_version) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, entityID, string(op), baseVersion, string(resultJSON), time.Now().UTC())
	return err
}
