package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/photosync/sync/internal/models"
)

// EntityRepository persists client entity snapshots in SQLite
type EntityRepository struct {
	db *sql.DB
}

// NewEntityRepository creates a new EntityRepository
func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// LoadAll returns every stored entity snapshot, tombstones included
func (r *EntityRepository) LoadAll(ctx context.Context) ([]*models.Entity, error) {
	query := `
		SELECT id, entity_type, version, updated_at, deleted, fields_json
		FROM entities
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// Save inserts or replaces an entity snapshot
func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
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

// Remove physically deletes an entity snapshot
func (r *EntityRepository) Remove(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var entity models.Entity
	var entityType string
	var deleted int
	var fieldsJSON string

	if err := row.Scan(
		&entity.ID,
		&entityType,
		&entity.Version,
		&entity.UpdatedAt,
		&deleted,
		&fieldsJSON,
	); err != nil {
		return nil, err
	}

	entity.Type = models.EntityType(entityType)
	entity.Deleted = deleted != 0
	if err := json.Unmarshal([]byte(fieldsJSON), &entity.Fields); err != nil {
		return nil, err
	}

	return &entity, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
