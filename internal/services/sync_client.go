package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/photosync/sync/internal/config"
	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/repository"
)

// SyncClient is the on-device facade over the sync core: it owns the local
// database, the entity store, the mutation journal, the connectivity monitor,
// the sync engine and the batch coordinator, and exposes the operations the
// app layer calls. All writes go through it; reads go to the entity store.
type SyncClient struct {
	db          *sql.DB
	store       *EntityStore
	log         *MutationLog
	monitor     *ConnectivityMonitor
	engine      *SyncEngine
	coordinator *BatchCoordinator
	metrics     *observability.SyncMetrics
	logger      *observability.Logger
}

// NewSyncClient wires the client stack from configuration. tokens supplies
// sync credentials; pass nil for an unauthenticated server.
func NewSyncClient(ctx context.Context, cfg *config.Config, tokens oauth2.TokenSource) (*SyncClient, error) {
	db, err := repository.NewClientSQLiteDB(cfg.Client.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}

	store, err := NewEntityStore(ctx, repository.NewEntityRepository(db))
	if err != nil {
		db.Close()
		return nil, err
	}

	log, err := NewMutationLog(ctx, repository.NewJournalRepository(db), cfg.Sync.MaxPendingEntries, cfg.Sync.MaxAttempts)
	if err != nil {
		db.Close()
		return nil, err
	}

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = cfg.Client.RemoteURL + "/health"
	}
	prober := NewHTTPProber(probeURL, time.Duration(cfg.Sync.ProbeTimeoutSec)*time.Second)
	monitor := NewConnectivityMonitor(prober,
		time.Duration(cfg.Sync.ProbeIntervalSec)*time.Second,
		time.Duration(cfg.Sync.DebounceMS)*time.Millisecond)

	remote := NewHTTPRemoteClient(cfg.Client.RemoteURL, cfg.Client.DeviceID, tokens,
		cfg.Security, time.Duration(cfg.Sync.RequestTimeoutSec)*time.Second)

	metrics, err := observability.NewSyncMetrics()
	if err != nil {
		db.Close()
		return nil, err
	}

	engine := NewSyncEngine(store, log, remote, monitor, SyncEngineConfig{
		DrainBatchSize: cfg.Sync.DrainBatchSize,
		RequestTimeout: time.Duration(cfg.Sync.RequestTimeoutSec) * time.Second,
		BackoffInitial: time.Duration(cfg.Sync.BackoffInitialMS) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Sync.BackoffMaxMS) * time.Millisecond,
	}, metrics)

	coordinator := NewBatchCoordinator(store, log, metrics)
	engine.SetRejectionHandler(coordinator)

	return &SyncClient{
		db:          db,
		store:       store,
		log:         log,
		monitor:     monitor,
		engine:      engine,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      observability.GetLogger().WithField("component", "sync_client"),
	}, nil
}

// Start launches connectivity probing and the sync engine
func (c *SyncClient) Start() {
	c.monitor.Start()
	c.engine.Start()
}

// Close stops background work and closes the local database
func (c *SyncClient) Close() error {
	c.engine.Stop()
	c.monitor.Stop()
	return c.db.Close()
}

// Store exposes the entity store for reads
func (c *SyncClient) Store() *EntityStore {
	return c.store
}

// Batches exposes the batch coordinator
func (c *SyncClient) Batches() *BatchCoordinator {
	return c.coordinator
}

// Notices returns the engine's notice stream for the UI layer
func (c *SyncClient) Notices() <-chan models.SyncNotice {
	return c.engine.Notices()
}

// Sync requests an immediate drain cycle (manual refresh)
func (c *SyncClient) Sync() {
	c.engine.Sync()
}

// Online reports current connectivity
func (c *SyncClient) Online() bool {
	return c.monitor.IsOnline()
}

// Create applies an optimistic create and journals it for sync. The entity
// should come from one of the models constructors.
func (c *SyncClient) Create(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	stored, err := c.store.PutLocal(ctx, entity)
	if err != nil {
		return nil, err
	}

	entry, err := models.NewMutationLogEntry(stored.Type, stored.ID, models.OpCreate, stored.Fields.Clone(), 0)
	if err != nil {
		return nil, err
	}
	if err := c.log.Append(ctx, entry); err != nil {
		// The journal would not take it, so the optimistic write must not
		// stand either.
		if rerr := c.store.Remove(ctx, stored.ID); rerr != nil {
			c.logger.Errorf("failed to undo optimistic create: %v", rerr)
		}
		return nil, err
	}
	c.metrics.AddPending(ctx, 1)

	c.engine.Sync()
	return stored, nil
}

// Update merges payload fields into an entity optimistically and journals the
// change
func (c *SyncClient) Update(ctx context.Context, entityType models.EntityType, id string, payload models.Fields) (*models.Entity, error) {
	prior, updated, err := c.store.ApplyLocal(ctx, entityType, id, payload)
	if err != nil {
		return nil, err
	}

	entry, err := models.NewMutationLogEntry(entityType, id, models.OpUpdate, payload.Clone(), updated.Version-1)
	if err != nil {
		return nil, err
	}
	entry.Prior = prior
	if err := c.log.Append(ctx, entry); err != nil {
		if rerr := c.store.Restore(ctx, prior); rerr != nil {
			c.logger.Errorf("failed to undo optimistic update: %v", rerr)
		}
		return nil, err
	}
	c.metrics.AddPending(ctx, 1)

	c.engine.Sync()
	return updated, nil
}

// Delete tombstones an entity optimistically and journals the deletion
func (c *SyncClient) Delete(ctx context.Context, entityType models.EntityType, id string) error {
	prior, err := c.store.Tombstone(ctx, entityType, id)
	if err != nil {
		return err
	}

	entry, err := models.NewMutationLogEntry(entityType, id, models.OpDelete, nil, prior.Version)
	if err != nil {
		return err
	}
	entry.Prior = prior
	if err := c.log.Append(ctx, entry); err != nil {
		if rerr := c.store.Restore(ctx, prior); rerr != nil {
			c.logger.Errorf("failed to undo optimistic delete: %v", rerr)
		}
		return err
	}
	c.metrics.AddPending(ctx, 1)

	c.engine.Sync()
	return nil
}

// PendingCountFor reports outstanding mutations for an entity so the UI can
// show a sync indicator
func (c *SyncClient) PendingCountFor(entityID string) int {
	return c.log.PendingCountFor(entityID)
}

// FailedMutations returns mutations needing explicit user retry or discard
func (c *SyncClient) FailedMutations() []*models.MutationLogEntry {
	return c.log.TerminallyFailed()
}

// RetryFailed requeues a terminally failed mutation and triggers a sync
func (c *SyncClient) RetryFailed(ctx context.Context, entryID string) error {
	if err := c.log.RetryFailed(ctx, entryID); err != nil {
		return err
	}
	c.engine.Sync()
	return nil
}

// DiscardFailed drops a terminally failed mutation and rolls back its
// optimistic effect
func (c *SyncClient) DiscardFailed(ctx context.Context, entryID string) error {
	entry, err := c.log.Discard(ctx, entryID)
	if err != nil {
		return err
	}

	if entry.Prior != nil {
		return c.store.Restore(ctx, entry.Prior)
	}
	if entry.Op == models.OpCreate {
		return c.store.Remove(ctx, entry.EntityID)
	}
	return nil
}
