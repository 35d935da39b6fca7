package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/repository"
)

// MutationLog is the durable, ordered queue of local mutations not yet
// confirmed by the remote store. It is the sole owner of the pending-mutation
// lifecycle: pending -> in_flight -> confirmed (removed), or in_flight ->
// pending on transient failure, or terminal failed after max attempts.
// Entries for the same entity are always returned in enqueue order.
type MutationLog struct {
	mu          sync.Mutex
	entries     []*models.MutationLogEntry // enqueue order
	byID        map[string]*models.MutationLogEntry
	repo        repository.JournalRepo // nil means memory-only (tests)
	maxPending  int
	maxAttempts int
}

// NewMutationLog creates a MutationLog, reloading the journal when a
// repository is given. Entries that were in_flight when the process died are
// reset to pending: their outcome is unknown and the remote applies
// mutations idempotently, so resubmission is safe.
func NewMutationLog(ctx context.Context, repo repository.JournalRepo, maxPending, maxAttempts int) (*MutationLog, error) {
	if maxPending <= 0 {
		maxPending = 1000
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	l := &MutationLog{
		byID:        make(map[string]*models.MutationLogEntry),
		repo:        repo,
		maxPending:  maxPending,
		maxAttempts: maxAttempts,
	}

	if repo != nil {
		entries, err := repo.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load mutation journal: %w", err)
		}
		for _, e := range entries {
			if e.Status == models.MutationStatusInFlight {
				e.Status = models.MutationStatusPending
				if err := repo.Update(ctx, e); err != nil {
					return nil, fmt.Errorf("failed to reset in-flight entry: %w", err)
				}
			}
			l.entries = append(l.entries, e)
			l.byID[e.ID] = e
		}
	}

	return l, nil
}

// Append enqueues a new entry. Fails with ErrQueueFull when the configured
// cap is reached; entries are never silently dropped.
func (l *MutationLog) Append(ctx context.Context, entry *models.MutationLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeCountLocked() >= l.maxPending {
		return models.ErrQueueFull
	}

	stored := entry.Clone()
	stored.Status = models.MutationStatusPending
	if l.repo != nil {
		if err := l.repo.Append(ctx, stored); err != nil {
			return fmt.Errorf("failed to persist journal entry: %w", err)
		}
	}
	l.entries = append(l.entries, stored)
	l.byID[stored.ID] = stored
	return nil
}

// NextBatch returns up to max pending entries in enqueue order. Entries
// sharing a batchId are returned together or not at all; a batch that does
// not fit in the remaining budget ends the scan rather than being skipped,
// so same-entity ordering is preserved. A batch larger than max is returned
// alone.
func (l *MutationLog) NextBatch(max int) []*models.MutationLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if max <= 0 {
		max = 20
	}

	var out []*models.MutationLogEntry
	included := make(map[string]bool)

	for _, e := range l.entries {
		if e.Status != models.MutationStatusPending || included[e.ID] {
			continue
		}

		if e.BatchID == "" {
			if len(out) >= max {
				break
			}
			out = append(out, e.Clone())
			included[e.ID] = true
			continue
		}

		members := l.pendingBatchMembersLocked(e.BatchID)
		if len(out) > 0 && len(out)+len(members) > max {
			break
		}
		for _, m := range members {
			out = append(out, m.Clone())
			included[m.ID] = true
		}
		if len(out) >= max {
			break
		}
	}

	return out
}

// MarkInFlight transitions entries to in_flight before submission
func (l *MutationLog) MarkInFlight(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		entry, ok := l.byID[id]
		if !ok {
			return models.ErrEntryNotFound
		}
		entry.Status = models.MutationStatusInFlight
		if err := l.updateLocked(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// MarkConfirmed removes entries the remote accepted
func (l *MutationLog) MarkConfirmed(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if _, ok := l.byID[id]; !ok {
			continue
		}
		if l.repo != nil {
			if _, err := l.repo.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete journal entry: %w", err)
			}
		}
		l.removeLocked(id)
	}
	return nil
}

// MarkFailed records a transient per-mutation failure: the attempt count is
// incremented and the entry returns to pending, becoming terminally failed
// once maxAttempts is exceeded. Returns the entries that became terminal.
func (l *MutationLog) MarkFailed(ctx context.Context, ids []string, reason string) ([]*models.MutationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var terminal []*models.MutationLogEntry
	for _, id := range ids {
		entry, ok := l.byID[id]
		if !ok {
			return nil, models.ErrEntryNotFound
		}
		entry.Attempt++
		entry.FailReason = reason
		if entry.Attempt < l.maxAttempts {
			entry.Status = models.MutationStatusPending
		} else {
			entry.Status = models.MutationStatusFailed
			terminal = append(terminal, entry.Clone())
		}
		if err := l.updateLocked(ctx, entry); err != nil {
			return nil, err
		}
	}
	return terminal, nil
}

// MarkRejected terminally fails an entry the remote rejected; rejected
// mutations are never retried automatically
func (l *MutationLog) MarkRejected(ctx context.Context, id, reason string) (*models.MutationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	entry.Status = models.MutationStatusFailed
	entry.FailReason = reason
	entry.Attempt = l.maxAttempts
	if err := l.updateLocked(ctx, entry); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// ReturnToPending puts in_flight entries back to pending after a whole-pass
// network failure. The attempt count is not incremented: network failures
// are not attributed to individual mutations.
func (l *MutationLog) ReturnToPending(ctx context.Context, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		entry, ok := l.byID[id]
		if !ok {
			continue
		}
		if entry.Status == models.MutationStatusInFlight {
			entry.Status = models.MutationStatusPending
			if err := l.updateLocked(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rebase updates an entry's base version for a clock-skew conflict resubmit
func (l *MutationLog) Rebase(ctx context.Context, id string, baseVersion int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return models.ErrEntryNotFound
	}
	entry.BaseVersion = baseVersion
	entry.Resubmitted = true
	entry.Status = models.MutationStatusPending
	return l.updateLocked(ctx, entry)
}

// RetryFailed resets a terminally failed entry for a user-initiated retry
func (l *MutationLog) RetryFailed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return models.ErrEntryNotFound
	}
	if entry.Status != models.MutationStatusFailed {
		return models.SyncError{Message: "entry is not terminally failed"}
	}
	entry.Status = models.MutationStatusPending
	entry.Attempt = 0
	entry.FailReason = ""
	return l.updateLocked(ctx, entry)
}

// Discard removes an entry without submitting it (user chose to drop a
// terminally failed mutation). Returns the removed entry.
func (l *MutationLog) Discard(ctx context.Context, id string) (*models.MutationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	if l.repo != nil {
		if _, err := l.repo.Delete(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to delete journal entry: %w", err)
		}
	}
	l.removeLocked(id)
	return entry.Clone(), nil
}

// Get returns a copy of an entry by id
func (l *MutationLog) Get(id string) (*models.MutationLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byID[id]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	return entry.Clone(), nil
}

// PendingCountFor reports outstanding (not yet confirmed) mutations for an
// entity, so the UI does not treat it as settled
func (l *MutationLog) PendingCountFor(entityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.entries {
		if e.EntityID == entityID {
			count++
		}
	}
	return count
}

// PendingCount reports entries awaiting submission
func (l *MutationLog) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.entries {
		if e.Status == models.MutationStatusPending {
			count++
		}
	}
	return count
}

// PendingForBatch reports outstanding entries for a batch
func (l *MutationLog) PendingForBatch(batchID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, e := range l.entries {
		if e.BatchID == batchID && e.Status != models.MutationStatusFailed {
			count++
		}
	}
	return count
}

// EntriesForBatch returns copies of every surviving entry for a batch, in
// enqueue order. Confirmed entries are gone by then; failed ones remain until
// the user retries or discards them.
func (l *MutationLog) EntriesForBatch(batchID string) []*models.MutationLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.MutationLogEntry
	for _, e := range l.entries {
		if e.BatchID == batchID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// TerminallyFailed returns entries that need explicit user retry or discard
func (l *MutationLog) TerminallyFailed() []*models.MutationLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*models.MutationLogEntry
	for _, e := range l.entries {
		if e.Status == models.MutationStatusFailed {
			out = append(out, e.Clone())
		}
	}
	return out
}

func (l *MutationLog) pendingBatchMembersLocked(batchID string) []*models.MutationLogEntry {
	var members []*models.MutationLogEntry
	for _, e := range l.entries {
		if e.BatchID == batchID && e.Status == models.MutationStatusPending {
			members = append(members, e)
		}
	}
	return members
}

func (l *MutationLog) activeCountLocked() int {
	count := 0
	for _, e := range l.entries {
		if e.Status == models.MutationStatusPending || e.Status == models.MutationStatusInFlight {
			count++
		}
	}
	return count
}

func (l *MutationLog) updateLocked(ctx context.Context, entry *models.MutationLogEntry) error {
	if l.repo != nil {
		if err := l.repo.Update(ctx, entry); err != nil {
			return fmt.Errorf("failed to update journal entry: %w", err)
		}
	}
	return nil
}

func (l *MutationLog) removeLocked(id string) {
	delete(l.byID, id)
	for i, e := range l.entries {
		if e.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
}
