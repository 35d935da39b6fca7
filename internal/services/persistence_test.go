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

// Restart behavior: the journal and entity snapshots survive process death,
// and entries caught in flight come back as pending.
func TestRestartRecoversState(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	db, err := repository.NewClientSQLiteDB(dbPath)
	require.NoError(t, err)

	store, err := NewEntityStore(ctx, repository.NewEntityRepository(db))
	require.NoError(t, err)
	log, err := NewMutationLog(ctx, repository.NewJournalRepository(db), 100, 5)
	require.NoError(t, err)

	album, err := models.NewAlbum("Trip", "")
	require.NoError(t, err)
	stored, err := store.PutLocal(ctx, album)
	require.NoError(t, err)

	entry, err := models.NewMutationLogEntry(models.EntityAlbum, stored.ID, models.OpCreate, stored.Fields.Clone(), 0)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, entry))

	// The process dies mid-submission
	require.NoError(t, log.MarkInFlight(ctx, []string{entry.ID}))
	require.NoError(t, db.Close())

	// A new process opens the same database
	db2, err := repository.NewClientSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	store2, err := NewEntityStore(ctx, repository.NewEntityRepository(db2))
	require.NoError(t, err)
	log2, err := NewMutationLog(ctx, repository.NewJournalRepository(db2), 100, 5)
	require.NoError(t, err)

	// Entity snapshot survived
	got, err := store2.Get(models.EntityAlbum, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip", got.Fields.String("name"))

	// The in-flight entry is pending again and eligible for resubmission
	batch := log2.NextBatch(20)
	require.Len(t, batch, 1)
	assert.Equal(t, entry.ID, batch[0].ID)
	assert.Equal(t, models.MutationStatusPending, batch[0].Status)
}
