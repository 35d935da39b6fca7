package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
)

// BatchCoordinator groups related mutations (add fifty photos to an album,
// delete a group and its albums) under one batchId so their outcomes can be
// tracked together and individual rejections rolled back without disturbing
// the rest of the batch. Enqueueing is all or nothing: if the journal cannot
// hold the whole batch, no member's optimistic effect survives. Records are
// an in-memory view over the journal: each entry carries its batch's member
// count, so a record lost to a restart is rebuilt from the surviving entries.
type BatchCoordinator struct {
	store *EntityStore
	log   *MutationLog

	mu      sync.Mutex
	records map[string]*batchRecord

	metrics *observability.SyncMetrics
	logger  *observability.Logger
}

type batchRecord struct {
	total     int
	failedIDs []string
}

// NewBatchCoordinator creates a BatchCoordinator. Metrics may be nil.
func NewBatchCoordinator(store *EntityStore, log *MutationLog, metrics *observability.SyncMetrics) *BatchCoordinator {
	return &BatchCoordinator{
		store:   store,
		log:     log,
		records: make(map[string]*batchRecord),
		metrics: metrics,
		logger:  observability.GetLogger().WithField("component", "batch_coordinator"),
	}
}

// SubmitBatch applies one operation to a set of existing entities as a single
// batch: each member is applied optimistically, then all journal entries are
// enqueued together. Returns the batch id for status tracking. Create is not
// valid here; use SubmitCreateBatch.
func (c *BatchCoordinator) SubmitBatch(ctx context.Context, entityType models.EntityType, entityIDs []string, op models.MutationOp, payload models.Fields) (string, error) {
	if op == models.OpCreate {
		return "", models.SyncError{Message: "batch create requires full entities, use SubmitCreateBatch"}
	}
	if !op.IsValid() {
		return "", models.ErrUnknownMutationOp
	}
	if len(entityIDs) == 0 {
		return "", models.SyncError{Message: "batch has no members"}
	}

	batchID := uuid.New().String()
	applied := make([]*appliedMember, 0, len(entityIDs))

	for _, id := range entityIDs {
		member, err := c.applyMember(ctx, entityType, id, op, payload, batchID)
		if err != nil {
			c.rollbackApplied(ctx, applied)
			return "", fmt.Errorf("batch member %s: %w", id, err)
		}
		member.entry.BatchTotal = len(entityIDs)
		applied = append(applied, member)
	}

	if err := c.enqueueAll(ctx, applied); err != nil {
		c.rollbackApplied(ctx, applied)
		return "", err
	}

	c.register(batchID, len(applied))
	c.logger.WithField("batch_id", batchID).Infof("batch enqueued: %d %s mutations", len(applied), op)
	return batchID, nil
}

// SubmitCreateBatch creates a set of new entities as a single batch
func (c *BatchCoordinator) SubmitCreateBatch(ctx context.Context, entities []*models.Entity) (string, error) {
	if len(entities) == 0 {
		return "", models.SyncError{Message: "batch has no members"}
	}

	batchID := uuid.New().String()
	applied := make([]*appliedMember, 0, len(entities))

	for _, entity := range entities {
		stored, err := c.store.PutLocal(ctx, entity)
		if err != nil {
			c.rollbackApplied(ctx, applied)
			return "", fmt.Errorf("batch member %s: %w", entity.ID, err)
		}
		entry, err := models.NewMutationLogEntry(stored.Type, stored.ID, models.OpCreate, stored.Fields.Clone(), 0)
		if err != nil {
			c.rollbackApplied(ctx, applied)
			return "", err
		}
		entry.BatchID = batchID
		entry.BatchTotal = len(entities)
		applied = append(applied, &appliedMember{entry: entry})
	}

	if err := c.enqueueAll(ctx, applied); err != nil {
		c.rollbackApplied(ctx, applied)
		return "", err
	}

	c.register(batchID, len(applied))
	c.logger.WithField("batch_id", batchID).Infof("batch enqueued: %d create mutations", len(applied))
	return batchID, nil
}

// BatchStatus reports a batch's aggregate state, derived from the journal's
// surviving entries plus the record of rolled-back members. A batch enqueued
// before a restart is still reportable: its record is rebuilt on demand.
func (c *BatchCoordinator) BatchStatus(batchID string) (*models.BatchStatus, error) {
	c.mu.Lock()
	record := c.recordLocked(batchID)
	if record == nil {
		c.mu.Unlock()
		return nil, models.ErrBatchNotFound
	}

	status := &models.BatchStatus{BatchID: batchID}
	status.FailedIDs = append(status.FailedIDs, record.failedIDs...)
	failed := len(record.failedIDs)
	total := record.total
	c.mu.Unlock()

	switch {
	case c.log.PendingForBatch(batchID) > 0:
		status.State = models.BatchPending
	case failed == 0:
		status.State = models.BatchAllConfirmed
	case failed == total:
		status.State = models.BatchAllFailed
	default:
		status.State = models.BatchPartialFailure
	}
	return status, nil
}

// HandleRejected rolls back the optimistic effect of one rejected batch
// member. Other members of the batch are untouched.
func (c *BatchCoordinator) HandleRejected(ctx context.Context, entry *models.MutationLogEntry, reason string) {
	if err := c.rollbackEntry(ctx, entry); err != nil {
		c.logger.Errorf("failed to roll back rejected mutation for entity %s: %v", entry.EntityID, err)
	}

	c.mu.Lock()
	if record := c.recordLocked(entry.BatchID); record != nil {
		record.addFailed(entry.EntityID)
	}
	c.mu.Unlock()

	c.logger.WithField("batch_id", entry.BatchID).Warnf("batch member %s rejected: %s", entry.EntityID, reason)
}

type appliedMember struct {
	entry *models.MutationLogEntry
	// enqueued marks entries already in the journal, which rollback must
	// also discard
	enqueued bool
}

func (c *BatchCoordinator) applyMember(ctx context.Context, entityType models.EntityType, id string, op models.MutationOp, payload models.Fields, batchID string) (*appliedMember, error) {
	var (
		prior *models.Entity
		base  int64
		err   error
	)

	switch op {
	case models.OpUpdate:
		var updated *models.Entity
		prior, updated, err = c.store.ApplyLocal(ctx, entityType, id, payload)
		if err != nil {
			return nil, err
		}
		base = updated.Version - 1
	case models.OpDelete:
		prior, err = c.store.Tombstone(ctx, entityType, id)
		if err != nil {
			return nil, err
		}
		base = prior.Version
	default:
		return nil, models.ErrUnknownMutationOp
	}

	entry, err := models.NewMutationLogEntry(entityType, id, op, payload.Clone(), base)
	if err != nil {
		return nil, err
	}
	entry.BatchID = batchID
	entry.Prior = prior
	return &appliedMember{entry: entry}, nil
}

func (c *BatchCoordinator) enqueueAll(ctx context.Context, applied []*appliedMember) error {
	for _, member := range applied {
		if err := c.log.Append(ctx, member.entry); err != nil {
			return err
		}
		member.enqueued = true
		if c.metrics != nil {
			c.metrics.AddPending(ctx, 1)
		}
	}
	return nil
}

// rollbackApplied undoes the optimistic effects of a partially submitted
// batch, newest first, and discards any entries that made it into the journal
func (c *BatchCoordinator) rollbackApplied(ctx context.Context, applied []*appliedMember) {
	for i := len(applied) - 1; i >= 0; i-- {
		member := applied[i]
		if member.enqueued {
			if _, err := c.log.Discard(ctx, member.entry.ID); err != nil {
				c.logger.Errorf("failed to discard journal entry during rollback: %v", err)
			} else if c.metrics != nil {
				c.metrics.AddPending(ctx, -1)
			}
		}
		if err := c.rollbackEntry(ctx, member.entry); err != nil {
			c.logger.Errorf("failed to roll back entity %s: %v", member.entry.EntityID, err)
		}
	}
}

func (c *BatchCoordinator) rollbackEntry(ctx context.Context, entry *models.MutationLogEntry) error {
	if entry.Prior != nil {
		return c.store.Restore(ctx, entry.Prior)
	}
	if entry.Op == models.OpCreate {
		return c.store.Remove(ctx, entry.EntityID)
	}
	return nil
}

func (c *BatchCoordinator) register(batchID string, total int) {
	c.mu.Lock()
	c.records[batchID] = &batchRecord{total: total}
	c.mu.Unlock()
}

// recordLocked returns the batch's record, rebuilding it from the journal
// when the in-memory copy did not survive a restart. Failed entries stay in
// the journal until retried or discarded, so the rebuilt record recovers the
// failed subset too. Caller holds c.mu.
func (c *BatchCoordinator) recordLocked(batchID string) *batchRecord {
	if batchID == "" {
		return nil
	}
	if record, ok := c.records[batchID]; ok {
		return record
	}

	entries := c.log.EntriesForBatch(batchID)
	if len(entries) == 0 {
		return nil
	}
	record := &batchRecord{total: len(entries)}
	for _, e := range entries {
		if e.BatchTotal > record.total {
			record.total = e.BatchTotal
		}
		if e.Status == models.MutationStatusFailed {
			record.addFailed(e.EntityID)
		}
	}
	c.records[batchID] = record
	return record
}

func (r *batchRecord) addFailed(entityID string) {
	for _, id := range r.failedIDs {
		if id == entityID {
			return
		}
	}
	r.failedIDs = append(r.failedIDs, entityID)
}
