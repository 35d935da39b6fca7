package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/repository"
)

func newTestCoordinator(t *testing.T, maxPending int) (*BatchCoordinator, *EntityStore, *MutationLog) {
	t.Helper()
	store := newTestStore(t)
	log := newTestLog(t, maxPending, 5)
	return NewBatchCoordinator(store, log, nil), store, log
}

func seedAlbums(t *testing.T, store *EntityStore, names ...string) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, len(names))
	for _, name := range names {
		album, err := models.NewAlbum(name, "")
		require.NoError(t, err)
		stored, err := store.PutLocal(ctx, album)
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}
	return ids
}

func TestSubmitBatchUpdate(t *testing.T) {
	ctx := context.Background()
	coordinator, store, log := newTestCoordinator(t, 100)
	ids := seedAlbums(t, store, "A", "B", "C")

	batchID, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpUpdate, models.Fields{"shared": true})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	// Optimistic effect applied to every member
	for _, id := range ids {
		got, err := store.Get(models.EntityAlbum, id)
		require.NoError(t, err)
		assert.Equal(t, true, got.Fields["shared"])
	}

	// All members journaled under the same batch
	assert.Equal(t, 3, log.PendingForBatch(batchID))

	status, err := coordinator.BatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, status.State)
}

func TestSubmitBatchDelete(t *testing.T) {
	ctx := context.Background()
	coordinator, store, _ := newTestCoordinator(t, 100)
	ids := seedAlbums(t, store, "A", "B")

	_, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpDelete, nil)
	require.NoError(t, err)

	for _, id := range ids {
		got, err := store.Get(models.EntityAlbum, id)
		require.NoError(t, err)
		assert.True(t, got.Deleted)
	}
}

func TestSubmitBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	// Journal can hold only two entries; the third member must fail the
	// whole batch
	coordinator, store, log := newTestCoordinator(t, 2)
	ids := seedAlbums(t, store, "A", "B", "C")

	_, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpUpdate, models.Fields{"shared": true})
	assert.ErrorIs(t, err, models.ErrQueueFull)

	// No member keeps its optimistic effect and nothing stays journaled
	for _, id := range ids {
		got, err := store.Get(models.EntityAlbum, id)
		require.NoError(t, err)
		_, hasShared := got.Fields["shared"]
		assert.False(t, hasShared)
	}
	assert.Equal(t, 0, log.PendingCount())
}

func TestSubmitBatchUnknownMember(t *testing.T) {
	ctx := context.Background()
	coordinator, store, log := newTestCoordinator(t, 100)
	ids := seedAlbums(t, store, "A")
	ids = append(ids, "does-not-exist")

	_, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpUpdate, models.Fields{"shared": true})
	assert.ErrorIs(t, err, models.ErrEntityNotFound)
	assert.Equal(t, 0, log.PendingCount())
}

func TestSubmitCreateBatch(t *testing.T) {
	ctx := context.Background()
	coordinator, store, log := newTestCoordinator(t, 100)
	albumIDs := seedAlbums(t, store, "Holiday")

	var photos []*models.Entity
	for i := 0; i < 3; i++ {
		photo, err := models.NewPhoto(albumIDs[0], "")
		require.NoError(t, err)
		photos = append(photos, photo)
	}

	batchID, err := coordinator.SubmitCreateBatch(ctx, photos)
	require.NoError(t, err)

	assert.Equal(t, 3, log.PendingForBatch(batchID))
	assert.Len(t, store.Query(models.EntityPhoto, nil, false), 3)
}

func TestHandleRejectedRollsBackMember(t *testing.T) {
	ctx := context.Background()
	coordinator, store, log := newTestCoordinator(t, 100)
	ids := seedAlbums(t, store, "A", "B")

	batchID, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpUpdate, models.Fields{"shared": true})
	require.NoError(t, err)

	// The server rejects the first member only
	batch := log.NextBatch(20)
	require.Len(t, batch, 2)
	rejectedEntry := batch[0]
	_, err = log.MarkRejected(ctx, rejectedEntry.ID, "album does not exist")
	require.NoError(t, err)
	coordinator.HandleRejected(ctx, rejectedEntry, "album does not exist")

	// Rejected member rolled back to its prior state
	got, err := store.Get(models.EntityAlbum, rejectedEntry.EntityID)
	require.NoError(t, err)
	_, hasShared := got.Fields["shared"]
	assert.False(t, hasShared)

	// The surviving member keeps its optimistic state
	other := batch[1]
	got, err = store.Get(models.EntityAlbum, other.EntityID)
	require.NoError(t, err)
	assert.Equal(t, true, got.Fields["shared"])

	// Once the rest confirms, the batch reports partial failure
	require.NoError(t, log.MarkConfirmed(ctx, []string{other.ID}))
	status, err := coordinator.BatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartialFailure, status.State)
	assert.Equal(t, []string{rejectedEntry.EntityID}, status.FailedIDs)
}

func TestBatchStatusAllConfirmed(t *testing.T) {
	ctx := context.Background()
	coordinator, store, log := newTestCoordinator(t, 100)
	ids := seedAlbums(t, store, "A", "B")

	batchID, err := coordinator.SubmitBatch(ctx, models.EntityAlbum, ids, models.OpUpdate, models.Fields{"shared": true})
	require.NoError(t, err)

	batch := log.NextBatch(20)
	entryIDs := make([]string, len(batch))
	for i, e := range batch {
		entryIDs[i] = e.ID
	}
	require.NoError(t, log.MarkConfirmed(ctx, entryIDs))

	status, err := coordinator.BatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchAllConfirmed, status.State)
}

func TestBatchStatusUnknownBatch(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(t, 100)
	_, err := coordinator.BatchStatus("nope")
	assert.ErrorIs(t, err, models.ErrBatchNotFound)
}

func TestBatchStatusSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	db, err := repository.NewClientSQLiteDB(dbPath)
	require.NoError(t, err)

	store, err := NewEntityStore(ctx, repository.NewEntityRepository(db))
	require.NoError(t, err)
	log, err := NewMutationLog(ctx, repository.NewJournalRepository(db), 100, 5)
	require.NoError(t, err)
	coordinator := NewBatchCoordinator(store, log, nil)

	album, err := models.NewAlbum("Holiday", "")
	require.NoError(t, err)
	storedAlbum, err := store.PutLocal(ctx, album)
	require.NoError(t, err)

	var photos []*models.Entity
	for i := 0; i < 2; i++ {
		photo, err := models.NewPhoto(storedAlbum.ID, "")
		require.NoError(t, err)
		photos = append(photos, photo)
	}
	batchID, err := coordinator.SubmitCreateBatch(ctx, photos)
	require.NoError(t, err)

	// The process dies before the batch drains
	require.NoError(t, db.Close())

	db2, err := repository.NewClientSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	store2, err := NewEntityStore(ctx, repository.NewEntityRepository(db2))
	require.NoError(t, err)
	log2, err := NewMutationLog(ctx, repository.NewJournalRepository(db2), 100, 5)
	require.NoError(t, err)
	coord2 := NewBatchCoordinator(store2, log2, nil)

	// The record comes back from the journal
	status, err := coord2.BatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, status.State)

	// A member rejected after the restart still lands in the failed subset
	batch := log2.NextBatch(20)
	require.Len(t, batch, 2)
	rejected, err := log2.MarkRejected(ctx, batch[0].ID, "album does not exist")
	require.NoError(t, err)
	coord2.HandleRejected(ctx, rejected, "album does not exist")
	require.NoError(t, log2.MarkConfirmed(ctx, []string{batch[1].ID}))

	status, err = coord2.BatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartialFailure, status.State)
	assert.Equal(t, []string{rejected.EntityID}, status.FailedIDs)
}
