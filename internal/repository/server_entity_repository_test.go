package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/sync/internal/models"
)

func newServerTestDB(t *testing.T) *ServerEntityRepository {
	t.Helper()
	db, err := NewServerSQLiteDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewServerEntityRepository(db)
}

func TestServerEntityRepositoryUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newServerTestDB(t)

	entity := &models.Entity{
		ID:        "album-1",
		Type:      models.EntityAlbum,
		Version:   1,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Fields:    models.Fields{"name": "Trip"},
	}
	require.NoError(t, repo.Upsert(ctx, entity))

	got, err := repo.Get(ctx, "album-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Trip", got.Fields.String("name"))
	assert.Equal(t, int64(1), got.Version)

	// Upsert replaces the existing row
	entity.Version = 2
	entity.Fields["name"] = "Renamed"
	require.NoError(t, repo.Upsert(ctx, entity))

	got, err = repo.Get(ctx, "album-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Renamed", got.Fields.String("name"))
}

func TestServerEntityRepositoryGetMissing(t *testing.T) {
	repo := newServerTestDB(t)

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestServerEntityRepositoryCounts(t *testing.T) {
	ctx := context.Background()
	repo := newServerTestDB(t)

	now := time.Now().UTC()
	entities := []*models.Entity{
		{ID: "a1", Type: models.EntityAlbum, Version: 1, UpdatedAt: now},
		{ID: "a2", Type: models.EntityAlbum, Version: 3, UpdatedAt: now},
		{ID: "p1", Type: models.EntityPhoto, Version: 2, UpdatedAt: now},
		{ID: "p2", Type: models.EntityPhoto, Version: 1, UpdatedAt: now, Deleted: true},
	}
	for _, e := range entities {
		require.NoError(t, repo.Upsert(ctx, e))
	}

	counts, err := repo.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["album"])
	assert.Equal(t, 1, counts["photo"])

	maxVersion, err := repo.MaxVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxVersion)
}

func TestAppliedMutations(t *testing.T) {
	ctx := context.Background()
	repo := newServerTestDB(t)

	result := &models.MutationResult{
		EntityID: "album-1",
		Outcome:  models.OutcomeAccepted,
		ServerEntity: &models.Entity{
			ID:      "album-1",
			Type:    models.EntityAlbum,
			Version: 2,
		},
	}

	t.Run("unknown mutation returns nil", func(t *testing.T) {
		got, err := repo.GetAppliedResult(ctx, "album-1", models.OpUpdate, 1)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("records and replays a result", func(t *testing.T) {
		require.NoError(t, repo.RecordApplied(ctx, "album-1", models.OpUpdate, 1, result))

		got, err := repo.GetAppliedResult(ctx, "album-1", models.OpUpdate, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.OutcomeAccepted, got.Outcome)
		assert.Equal(t, int64(2), got.ServerEntity.Version)
	})

	t.Run("first write wins on duplicate record", func(t *testing.T) {
		other := &models.MutationResult{EntityID: "album-1", Outcome: models.OutcomeRejected, Reason: "late"}
		require.NoError(t, repo.RecordApplied(ctx, "album-1", models.OpUpdate, 1, other))

		got, err := repo.GetAppliedResult(ctx, "album-1", models.OpUpdate, 1)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAccepted, got.Outcome)
	})

	t.Run("different base version is a different key", func(t *testing.T) {
		got, err := repo.GetAppliedResult(ctx, "album-1", models.OpUpdate, 2)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestDeviceRepository(t *testing.T) {
	ctx := context.Background()
	db, err := NewServerSQLiteDB(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewDeviceRepository(db)

	device, err := models.NewDevice("Phone", "ios", "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, device))

	got, err := repo.Get(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Phone", got.DeviceName)
	assert.True(t, got.IsActive)
	assert.True(t, got.CheckKey("0123456789abcdef0123456789abcdef"))

	require.NoError(t, repo.Touch(ctx, device.ID))

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
