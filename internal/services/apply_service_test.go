package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/sync/internal/models"
)

// memServerRepo is an in-memory ServerEntityRepo
type memServerRepo struct {
	mu       sync.Mutex
	entities map[string]*models.Entity
	applied  map[string]*models.MutationResult
}

func newMemServerRepo() *memServerRepo {
	return &memServerRepo{
		entities: make(map[string]*models.Entity),
		applied:  make(map[string]*models.MutationResult),
	}
}

func appliedKey(entityID string, op models.MutationOp, baseVersion int64) string {
	return fmt.Sprintf("%s|%s|%d", entityID, op, baseVersion)
}

func (r *memServerRepo) Get(ctx context.Context, id string) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[id]; ok {
		return e.Clone(), nil
	}
	return nil, nil
}

func (r *memServerRepo) Upsert(ctx context.Context, entity *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity.ID] = entity.Clone()
	return nil
}

func (r *memServerRepo) CountByType(ctx context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range r.entities {
		if !e.Deleted {
			counts[string(e.Type)]++
		}
	}
	return counts, nil
}

func (r *memServerRepo) MaxVersion(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, e := range r.entities {
		if e.Version > max {
			max = e.Version
		}
	}
	return max, nil
}

func (r *memServerRepo) GetAppliedResult(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64) (*models.MutationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if result, ok := r.applied[appliedKey(entityID, op, baseVersion)]; ok {
		return result, nil
	}
	return nil, nil
}

func (r *memServerRepo) RecordApplied(ctx context.Context, entityID string, op models.MutationOp, baseVersion int64, result *models.MutationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := appliedKey(entityID, op, baseVersion)
	if _, ok := r.applied[key]; !ok {
		r.applied[key] = result
	}
	return nil
}

func applyOne(t *testing.T, svc *ApplyService, m models.WireMutation) models.MutationResult {
	t.Helper()
	resp, err := svc.Apply(context.Background(), &models.SyncMutationsRequest{
		Mutations: []models.WireMutation{m},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	return resp.Results[0]
}

func seedServerAlbum(t *testing.T, svc *ApplyService, id string) models.MutationResult {
	t.Helper()
	result := applyOne(t, svc, models.WireMutation{
		EntityType: models.EntityAlbum,
		EntityID:   id,
		Op:         models.OpCreate,
		Payload:    models.Fields{"name": "Album"},
	})
	require.Equal(t, models.OutcomeAccepted, result.Outcome)
	return result
}

func TestApplyServiceCreate(t *testing.T) {
	t.Run("accepts create and assigns version 1", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)

		result := seedServerAlbum(t, svc, "album-1")
		assert.Equal(t, int64(1), result.ServerEntity.Version)
	})

	t.Run("conflicts on duplicate create", func(t *testing.T) {
		repo := newMemServerRepo()
		svc := NewApplyService(repo, nil)
		seedServerAlbum(t, svc, "album-1")

		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpCreate,
			Payload:     models.Fields{"name": "Other"},
			BaseVersion: 9,
		})
		assert.Equal(t, models.OutcomeConflict, result.Outcome)
		assert.Equal(t, "Album", result.ServerEntity.Fields.String("name"))
	})

	t.Run("rejects photo without a live album", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)

		result := applyOne(t, svc, models.WireMutation{
			EntityType: models.EntityPhoto,
			EntityID:   "photo-1",
			Op:         models.OpCreate,
			Payload:    models.Fields{"albumId": "missing"},
		})
		assert.Equal(t, models.OutcomeRejected, result.Outcome)
		assert.Equal(t, "album does not exist", result.Reason)
	})

	t.Run("accepts photo in an existing album", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)
		seedServerAlbum(t, svc, "album-1")

		result := applyOne(t, svc, models.WireMutation{
			EntityType: models.EntityPhoto,
			EntityID:   "photo-1",
			Op:         models.OpCreate,
			Payload:    models.Fields{"albumId": "album-1"},
		})
		assert.Equal(t, models.OutcomeAccepted, result.Outcome)
	})

	t.Run("rejects invalid comment", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)

		result := applyOne(t, svc, models.WireMutation{
			EntityType: models.EntityComment,
			EntityID:   "c1",
			Op:         models.OpCreate,
			Payload:    models.Fields{"text": "hi"},
		})
		assert.Equal(t, models.OutcomeRejected, result.Outcome)
	})
}

func TestApplyServiceUpdate(t *testing.T) {
	t.Run("accepts matching base version", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)
		seedServerAlbum(t, svc, "album-1")

		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpUpdate,
			Payload:     models.Fields{"name": "Renamed"},
			BaseVersion: 1,
		})
		require.Equal(t, models.OutcomeAccepted, result.Outcome)
		assert.Equal(t, int64(2), result.ServerEntity.Version)
		assert.Equal(t, "Renamed", result.ServerEntity.Fields.String("name"))
	})

	t.Run("conflicts on stale base version", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)
		seedServerAlbum(t, svc, "album-1")

		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpUpdate,
			Payload:     models.Fields{"name": "Stale"},
			BaseVersion: 0,
		})
		assert.Equal(t, models.OutcomeConflict, result.Outcome)
		require.NotNil(t, result.ServerEntity)
		assert.Equal(t, int64(1), result.ServerEntity.Version)
	})

	t.Run("rejects update of missing entity", func(t *testing.T) {
		svc := NewApplyService(newMemServerRepo(), nil)

		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "nope",
			Op:          models.OpUpdate,
			Payload:     models.Fields{"name": "x"},
			BaseVersion: 1,
		})
		assert.Equal(t, models.OutcomeRejected, result.Outcome)
		assert.Equal(t, "entity does not exist", result.Reason)
	})
}

func TestApplyServiceDelete(t *testing.T) {
	svc := NewApplyService(newMemServerRepo(), nil)
	seedServerAlbum(t, svc, "album-1")

	t.Run("accepts delete and tombstones", func(t *testing.T) {
		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpDelete,
			BaseVersion: 1,
		})
		require.Equal(t, models.OutcomeAccepted, result.Outcome)
		assert.True(t, result.ServerEntity.Deleted)
		assert.Equal(t, int64(2), result.ServerEntity.Version)
	})

	t.Run("rejects delete of already deleted entity", func(t *testing.T) {
		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpDelete,
			BaseVersion: 2,
		})
		assert.Equal(t, models.OutcomeRejected, result.Outcome)
		assert.Equal(t, "entity already deleted", result.Reason)
	})

	t.Run("rejects update of deleted entity", func(t *testing.T) {
		result := applyOne(t, svc, models.WireMutation{
			EntityType:  models.EntityAlbum,
			EntityID:    "album-1",
			Op:          models.OpUpdate,
			Payload:     models.Fields{"name": "x"},
			BaseVersion: 2,
		})
		assert.Equal(t, models.OutcomeRejected, result.Outcome)
		assert.Equal(t, "entity deleted", result.Reason)
	})
}

func TestApplyServiceIdempotentReplay(t *testing.T) {
	svc := NewApplyService(newMemServerRepo(), nil)
	seedServerAlbum(t, svc, "album-1")

	update := models.WireMutation{
		EntityType:  models.EntityAlbum,
		EntityID:    "album-1",
		Op:          models.OpUpdate,
		Payload:     models.Fields{"name": "Renamed"},
		BaseVersion: 1,
	}

	first := applyOne(t, svc, update)
	require.Equal(t, models.OutcomeAccepted, first.Outcome)

	// A crash-recovered client resubmits the same mutation: the recorded
	// result is replayed, the version does not advance again
	second := applyOne(t, svc, update)
	assert.Equal(t, models.OutcomeAccepted, second.Outcome)
	assert.Equal(t, first.ServerEntity.Version, second.ServerEntity.Version)
}

func TestApplyServiceStatus(t *testing.T) {
	svc := NewApplyService(newMemServerRepo(), nil)
	seedServerAlbum(t, svc, "album-1")
	seedServerAlbum(t, svc, "album-2")

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, status.EntityCounts["album"])
	assert.Equal(t, int64(1), status.ServerVersion)
	assert.False(t, status.ServerTime.IsZero())
}
