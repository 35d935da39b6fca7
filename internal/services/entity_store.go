package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/repository"
)

// EntityStore is the single source of truth for current (possibly optimistic)
// entity state on the device. All mutations are funneled through its mutex so
// the single-writer invariant holds even when the sync engine runs on a
// background goroutine. Tombstoned entities are retained until the remote
// confirms the deletion.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]*models.Entity
	repo     repository.EntityRepo // nil means memory-only (tests)
}

// NewEntityStore creates an EntityStore, loading snapshots from the
// repository when one is given
func NewEntityStore(ctx context.Context, repo repository.EntityRepo) (*EntityStore, error) {
	s := &EntityStore{
		entities: make(map[string]*models.Entity),
		repo:     repo,
	}

	if repo != nil {
		entities, err := repo.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity snapshots: %w", err)
		}
		for _, e := range entities {
			s.entities[e.ID] = e
		}
	}

	return s, nil
}

// Get retrieves an entity by type and id. Tombstoned entities are returned;
// callers that need live entities only should check Deleted.
func (s *EntityStore) Get(entityType models.EntityType, id string) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok || entity.Type != entityType {
		return nil, models.ErrEntityNotFound
	}
	return entity.Clone(), nil
}

// PutLocal applies a local optimistic write: the entity is validated, its
// version bumped and its updatedAt stamped before being stored
func (s *EntityStore) PutLocal(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := entity.Clone()
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()

	return stored, s.putLocked(ctx, stored)
}

// ApplyLocal merges payload fields into an existing entity as a local
// optimistic write. Returns the entity state before the merge, for rollback.
func (s *EntityStore) ApplyLocal(ctx context.Context, entityType models.EntityType, id string, payload models.Fields) (prior *models.Entity, updated *models.Entity, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[id]
	if !ok || current.Type != entityType {
		return nil, nil, models.ErrEntityNotFound
	}

	prior = current.Clone()
	next := current.Clone()
	if next.Fields == nil {
		next.Fields = models.Fields{}
	}
	for k, v := range payload {
		next.Fields[k] = v
	}
	if err := next.Validate(); err != nil {
		return nil, nil, err
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := s.putLocked(ctx, next); err != nil {
		return nil, nil, err
	}
	return prior, next.Clone(), nil
}

// PutRemote applies a server-authoritative write: version and updatedAt are
// taken from the server entity as-is
func (s *EntityStore) PutRemote(ctx context.Context, entity *models.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, entity.Clone())
}

// Tombstone marks an entity deleted, retaining it for undo and offline
// consistency until the remote confirms. Returns the prior snapshot.
func (s *EntityStore) Tombstone(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[id]
	if !ok || current.Type != entityType {
		return nil, models.ErrEntityNotFound
	}

	prior := current.Clone()
	next := current.Clone()
	next.Deleted = true
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := s.putLocked(ctx, next); err != nil {
		return nil, err
	}
	return prior, nil
}

// Remove physically deletes an entity, used once the remote confirms a
// deletion or when rolling back an optimistic create
func (s *EntityStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities, id)
	if s.repo != nil {
		if _, err := s.repo.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove entity snapshot: %w", err)
		}
	}
	return nil
}

// Restore writes back an exact prior snapshot, used when rolling back the
// optimistic effect of a rejected mutation
func (s *EntityStore) Restore(ctx context.Context, snapshot *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, snapshot.Clone())
}

// Query returns entities of the given type matching the predicate.
// Tombstoned entities are excluded unless includeTombstoned is set.
// A nil predicate matches everything.
func (s *EntityStore) Query(entityType models.EntityType, predicate func(*models.Entity) bool, includeTombstoned bool) []*models.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Entity
	for _, e := range s.entities {
		if e.Type != entityType {
			continue
		}
		if e.Deleted && !includeTombstoned {
			continue
		}
		if predicate != nil && !predicate(e) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

func (s *EntityStore) putLocked(ctx context.Context, entity *models.Entity) error {
	s.entities[entity.ID] = entity
	if s.repo != nil {
		if err := s.repo.Save(ctx, entity); err != nil {
			return fmt.Errorf("failed to persist entity snapshot: %w", err)
		}
	}
	return nil
}
