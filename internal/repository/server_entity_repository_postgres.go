package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/photosync/sync/internal/models"
)

// ServerEntityRepositoryPostgres is the PostgreSQL implementation of the
// sync server's authoritative entity store
type ServerEntityRepositoryPostgres struct {
	db *sql.DB
}

// NewServerEntityRepositoryPostgres creates a new ServerEntityRepositoryPostgres
func NewServerEntityRepositoryPostgres(db *sql.DB) *ServerEntityRepositoryPostgres {
	return &ServerEntityRepositoryPostgres{db: db}
}

// Get retrieves an entity by id, tombstones included
func (r *ServerEntityRepositoryPostgres) Get(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, entity_type, version, updated_at, deleted, fields_json
		FROM entities WHERE id = $1
	`

	var entity models.Entity
	var entityType string
	var fieldsJSON string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&entity.ID,
		&entityType,
		&entity.Version,
		&entity.UpdatedAt,
		&entity.Deleted,
		&fieldsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entity.Type = models.EntityType(entityType)
	if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
		return nil, err
	}
	return &entity, nil
}

// Upsert inserts or replaces an entity
func (r *ServerEntityRepositoryPostgres) Upsert(ctx context.Context, entity *models.Entity) error {
	fieldsJSON, err := json.Marshal(entity.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (id, entity_type, version, updated_at, deleted, fields_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			deleted = EXCLUDED.deleted,
			fields_json = EXCLUDED.fields_json
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.ID,
		string(entity.Type),
		entity.Version,
		entity.UpdatedAt,
		entity.Deleted,
		string(fieldsJSON),
	)
	return err
}

// CountByType returns live entity counts keyed by entity type
func (r *ServerEntityRepositoryPostgres) CountByType(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT entity_type, COUNT(*)
		FROM entities WHERE deleted = FALSE
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
func (r *ServerEntityRepositoryPostgres) MaxVersion(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(version) FROM entities`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max.Int64, nil
}

// GetAppliedResult returns the recorded result of a previously applied
// mutation, or nil if the mutation has not been seen before
func (r *ServerEntityRepositoryPostgres) GetAppliedResult(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64) (*models.MutationResult, error) {
	query := `
		SELECT result_json FROM applied_mutations
		WHERE entity_id = $1 AND op = $2 AND base_version = $3
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
func (r *ServerEntityRepositoryPostgres) RecordApplied(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64, result *models.MutationResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO applied_mutations (entity_id, op, base_version, result_json, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id, op, base_version) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query, entityID, string(op), baseVersion, string(resultJSON), time.Now().UTC())
	return err
}
