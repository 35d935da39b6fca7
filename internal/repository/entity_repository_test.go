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

func TestEntityRepository(t *testing.T) {
	ctx := context.Background()
	db, err := NewClientSQLiteDB(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := NewEntityRepository(db)

	entity := &models.Entity{
		ID:        "photo-1",
		Type:      models.EntityPhoto,
		Version:   1,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Fields:    models.Fields{"albumId": "album-1", "caption": "sunset"},
	}

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, entity))

		loaded, err := repo.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.Equal(t, "sunset", loaded[0].Fields.String("caption"))
		assert.Equal(t, models.EntityPhoto, loaded[0].Type)
	})

	t.Run("save replaces and keeps tombstones", func(t *testing.T) {
		entity.Version = 2
		entity.Deleted = true
		require.NoError(t, repo.Save(ctx, entity))

		loaded, err := repo.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, loaded, 1)
		assert.True(t, loaded[0].Deleted)
		assert.Equal(t, int64(2), loaded[0].Version)
	})

	t.Run("remove deletes the snapshot", func(t *testing.T) {
		removed, err := repo.Remove(ctx, "photo-1")
		require.NoError(t, err)
		assert.True(t, removed)

		loaded, err := repo.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded)

		removed, err = repo.Remove(ctx, "photo-1")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
