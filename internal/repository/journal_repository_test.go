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

func newClientTestDB(t *testing.T) *JournalRepository {
	t.Helper()
	db, err := NewClientSQLiteDB(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJournalRepository(db)
}

func TestJournalRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newClientTestDB(t)

	prior := &models.Entity{
		ID:        "album-1",
		Type:      models.EntityAlbum,
		Version:   2,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Fields:    models.Fields{"name": "Before"},
	}
	entry, err := models.NewMutationLogEntry(models.EntityAlbum, "album-1", models.OpUpdate, models.Fields{"name": "After"}, 2)
	require.NoError(t, err)
	entry.BatchID = "batch-1"
	entry.BatchTotal = 3
	entry.Prior = prior

	require.NoError(t, repo.Append(ctx, entry))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, models.EntityAlbum, got.EntityType)
	assert.Equal(t, models.OpUpdate, got.Op)
	assert.Equal(t, "After", got.Payload.String("name"))
	assert.Equal(t, int64(2), got.BaseVersion)
	assert.Equal(t, "batch-1", got.BatchID)
	assert.Equal(t, 3, got.BatchTotal)
	assert.Equal(t, models.MutationStatusPending, got.Status)
	require.NotNil(t, got.Prior)
	assert.Equal(t, "Before", got.Prior.Fields.String("name"))
}

func TestJournalRepositoryNilPrior(t *testing.T) {
	ctx := context.Background()
	repo := newClientTestDB(t)

	entry, err := models.NewMutationLogEntry(models.EntityPhoto, "photo-1", models.OpCreate, models.Fields{"albumId": "a1"}, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, entry))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Nil(t, loaded[0].Prior)
}

func TestJournalRepositoryLoadOrder(t *testing.T) {
	ctx := context.Background()
	repo := newClientTestDB(t)

	base := time.Now().UTC().Add(-time.Minute)
	var ids []string
	for i := 0; i < 3; i++ {
		entry, err := models.NewMutationLogEntry(models.EntityPhoto, "photo-1", models.OpUpdate, nil, int64(i))
		require.NoError(t, err)
		entry.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Append(ctx, entry))
		ids = append(ids, entry.ID)
	}

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, id := range ids {
		assert.Equal(t, id, loaded[i].ID)
	}
}

func TestJournalRepositoryUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newClientTestDB(t)

	entry, err := models.NewMutationLogEntry(models.EntityPhoto, "photo-1", models.OpUpdate, models.Fields{"caption": "x"}, 1)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, entry))

	entry.Status = models.MutationStatusFailed
	entry.Attempt = 5
	entry.FailReason = "rejected"
	entry.Resubmitted = true
	entry.BaseVersion = 9
	require.NoError(t, repo.Update(ctx, entry))

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.MutationStatusFailed, loaded[0].Status)
	assert.Equal(t, 5, loaded[0].Attempt)
	assert.Equal(t, "rejected", loaded[0].FailReason)
	assert.True(t, loaded[0].Resubmitted)
	assert.Equal(t, int64(9), loaded[0].BaseVersion)
}

func TestJournalRepositoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := newClientTestDB(t)

	entry, err := models.NewMutationLogEntry(models.EntityPhoto, "photo-1", models.OpCreate, nil, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, entry))

	deleted, err := repo.Delete(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	loaded, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
