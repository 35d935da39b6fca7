package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
)

// EngineState is the sync engine's coarse state
type EngineState string

const (
	StateIdle     EngineState = "idle"
	StateDraining EngineState = "draining"
	StateBackoff  EngineState = "backoff"
)

// errNoProgress marks a pass whose response settled nothing, so the drain
// loop backs off instead of resubmitting the same batch in a hot loop
var errNoProgress = errors.New("sync response classified no mutations")

// RejectionHandler is informed when the remote terminally rejects a batch
// member, so the batch coordinator can roll back that member's optimistic
// effect
type RejectionHandler interface {
	HandleRejected(ctx context.Context, entry *models.MutationLogEntry, reason string)
}

// SyncEngineConfig tunes the drain loop
type SyncEngineConfig struct {
	DrainBatchSize int
	RequestTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *SyncEngineConfig) applyDefaults() {
	if c.DrainBatchSize <= 0 {
		c.DrainBatchSize = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
}

// SyncEngine drains the mutation log against the remote store when
// connectivity allows, applies authoritative results back into the entity
// store and resolves conflicts by last-writer-wins on the server timestamp.
// It is the only component that retries; nothing else implements its own
// retry loop.
type SyncEngine struct {
	store   *EntityStore
	log     *MutationLog
	remote  RemoteClient
	monitor *ConnectivityMonitor
	cfg     SyncEngineConfig

	mu         sync.Mutex
	state      EngineState
	rejections RejectionHandler

	notices chan models.SyncNotice
	trigger chan struct{}
	wg      sync.WaitGroup
	subID   int

	// lifecycle guards started and stopCh; stopCh is remade on each Start so
	// the engine can be restarted after Stop
	lifecycle sync.Mutex
	started   bool
	stopCh    chan struct{}

	metrics *observability.SyncMetrics
	logger  *observability.Logger
}

// NewSyncEngine creates a SyncEngine. Metrics may be nil.
func NewSyncEngine(store *EntityStore, log *MutationLog, remote RemoteClient, monitor *ConnectivityMonitor, cfg SyncEngineConfig, metrics *observability.SyncMetrics) *SyncEngine {
	cfg.applyDefaults()
	return &SyncEngine{
		store:   store,
		log:     log,
		remote:  remote,
		monitor: monitor,
		cfg:     cfg,
		state:   StateIdle,
		notices: make(chan models.SyncNotice, 64),
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		metrics: metrics,
		logger:  observability.GetLogger().WithField("component", "sync_engine"),
	}
}

// SetRejectionHandler wires the batch coordinator's rollback hook
func (e *SyncEngine) SetRejectionHandler(h RejectionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejections = h
}

// Notices returns the stream of non-blocking user-visible notices
// (conflicts resolved against local changes, terminal rejections)
func (e *SyncEngine) Notices() <-chan models.SyncNotice {
	return e.notices
}

// State returns the engine's current state
func (e *SyncEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start subscribes to connectivity transitions and launches the drain loop.
// A transition to online triggers exactly one drain cycle. A stopped engine
// may be started again.
func (e *SyncEngine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})

	if e.monitor != nil {
		e.subID = e.monitor.Subscribe(func(online bool) {
			if online {
				e.Sync()
			}
		})
	}

	e.wg.Add(1)
	go e.run()

	if e.log.PendingCount() > 0 && (e.monitor == nil || e.monitor.IsOnline()) {
		e.Sync()
	}
}

// Stop halts the drain loop. A drain pass in progress is not forcibly
// cancelled; the in-flight call times out on its own.
func (e *SyncEngine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.started {
		return
	}
	e.started = false

	if e.monitor != nil {
		e.monitor.Unsubscribe(e.subID)
	}
	close(e.stopCh)
	e.wg.Wait()
}

// Sync requests a drain cycle (manual sync, app foreground). Requests
// collapse: at most one is queued.
func (e *SyncEngine) Sync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *SyncEngine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.trigger:
			e.drainUntilSettled(context.Background())
		}
	}
}

// drainUntilSettled runs drain passes until the log has no feasible pending
// entries, connectivity is lost, or the engine is stopped
func (e *SyncEngine) drainUntilSettled(ctx context.Context) {
	e.setState(StateDraining)
	defer e.setState(StateIdle)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BackoffInitial
	bo.MaxInterval = e.cfg.BackoffMax
	bo.RandomizationFactor = 0.2

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if e.monitor != nil && !e.monitor.IsOnline() {
			return
		}

		batch := e.log.NextBatch(e.cfg.DrainBatchSize)
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		err := e.drainPass(ctx, batch)
		if e.metrics != nil {
			e.metrics.RecordDrain(ctx, time.Since(start), err)
		}

		if err == nil {
			bo.Reset()
			continue
		}

		if errors.Is(err, models.ErrUnauthorized) {
			// Paused until the identity collaborator refreshes the
			// credential and requests a new sync.
			e.logger.Warn("sync pass unauthorized, pausing")
			e.notify(models.SyncNotice{Kind: models.NoticeUnauthorized, Reason: err.Error()})
			return
		}

		// Whole-pass failure, network or a response that settled nothing:
		// back off, then recheck connectivity.
		wait := bo.NextBackOff()
		e.logger.Warnf("sync pass failed, backing off %s: %v", wait, err)
		e.setState(StateBackoff)

		select {
		case <-e.stopCh:
			return
		case <-time.After(wait):
		}

		if e.monitor != nil && !e.monitor.CheckNow(ctx) {
			return
		}
		e.setState(StateDraining)
	}
}

// drainPass submits one bounded batch and applies the results
func (e *SyncEngine) drainPass(ctx context.Context, batch []*models.MutationLogEntry) error {
	ctx, span := observability.StartServiceSpan(ctx, "sync_engine", "drain_pass")
	defer span.End()

	ids := make([]string, len(batch))
	for i, entry := range batch {
		ids[i] = entry.ID
	}

	if err := e.log.MarkInFlight(ctx, ids); err != nil {
		observability.RecordError(span, err)
		return err
	}

	req := buildSyncRequest(batch)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	resp, err := e.remote.SubmitMutations(callCtx, req)
	cancel()
	if err != nil {
		// Outcome unknown: return everything to pending. Resubmission is
		// safe because the remote applies idempotently.
		if rerr := e.log.ReturnToPending(ctx, ids); rerr != nil {
			e.logger.Errorf("failed to requeue after network failure: %v", rerr)
		}
		observability.RecordError(span, err)
		return err
	}

	classified := make(map[string]bool)
	for i, entry := range batch {
		result := matchResult(resp.Results, entry, i)
		if result == nil {
			continue
		}
		if !result.Outcome.IsValid() {
			e.logger.Warnf("unknown outcome %q for entity %s", result.Outcome, entry.EntityID)
			continue
		}
		classified[entry.ID] = true
		if err := e.applyResult(ctx, entry, result); err != nil {
			e.logger.Errorf("failed to apply sync result for entity %s: %v", entry.EntityID, err)
		}
	}

	// Entries the response did not classify stay queued for the next pass.
	var unclassified []string
	for _, entry := range batch {
		if !classified[entry.ID] {
			unclassified = append(unclassified, entry.ID)
		}
	}
	if len(unclassified) > 0 {
		if err := e.log.ReturnToPending(ctx, unclassified); err != nil {
			return err
		}
		// A nonconforming response that settled nothing counts as a failed
		// pass; the drain loop backs off before resubmitting.
		if len(unclassified) == len(batch) {
			observability.RecordError(span, errNoProgress)
			return errNoProgress
		}
	}

	observability.SetSuccess(span)
	return nil
}

func (e *SyncEngine) applyResult(ctx context.Context, entry *models.MutationLogEntry, result *models.MutationResult) error {
	if e.metrics != nil {
		e.metrics.RecordMutation(ctx, string(result.Outcome))
	}

	switch result.Outcome {
	case models.OutcomeAccepted:
		return e.applyAccepted(ctx, entry, result)
	case models.OutcomeConflict:
		return e.resolveConflict(ctx, entry, result)
	default:
		return e.applyRejected(ctx, entry, result)
	}
}

func (e *SyncEngine) applyAccepted(ctx context.Context, entry *models.MutationLogEntry, result *models.MutationResult) error {
	if entry.Op == models.OpDelete {
		// Remote confirmed the deletion: the tombstone can go.
		if err := e.store.Remove(ctx, entry.EntityID); err != nil {
			return err
		}
	} else if result.ServerEntity != nil {
		if err := e.store.PutRemote(ctx, result.ServerEntity); err != nil {
			return err
		}
	}
	if err := e.log.MarkConfirmed(ctx, []string{entry.ID}); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.AddPending(ctx, -1)
	}
	return nil
}

// resolveConflict applies last-writer-wins by server timestamp. If the local
// mutation is actually newer (clock skew), it is resubmitted once against
// the latest server version before giving up.
func (e *SyncEngine) resolveConflict(ctx context.Context, entry *models.MutationLogEntry, result *models.MutationResult) error {
	server := result.ServerEntity
	if server == nil {
		// Conflict without server state is unresolvable; treat like a
		// rejection so it surfaces instead of looping.
		return e.applyRejected(ctx, entry, result)
	}

	localNewer := entry.CreatedAt.After(server.UpdatedAt)
	if localNewer && !entry.Resubmitted {
		e.logger.Infof("conflict on entity %s, resubmitting against server version %d", entry.EntityID, server.Version)
		return e.log.Rebase(ctx, entry.ID, server.Version)
	}

	// Server wins: adopt its state wholesale and drop the local change.
	if err := e.store.PutRemote(ctx, server); err != nil {
		return err
	}
	if err := e.log.MarkConfirmed(ctx, []string{entry.ID}); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.AddPending(ctx, -1)
	}
	e.notify(models.SyncNotice{
		Kind:       models.NoticeConflictOverwritten,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		BatchID:    entry.BatchID,
	})
	return nil
}

func (e *SyncEngine) applyRejected(ctx context.Context, entry *models.MutationLogEntry, result *models.MutationResult) error {
	rejected, err := e.log.MarkRejected(ctx, entry.ID, result.Reason)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.AddPending(ctx, -1)
	}

	e.mu.Lock()
	handler := e.rejections
	e.mu.Unlock()
	if handler != nil && entry.BatchID != "" {
		handler.HandleRejected(ctx, rejected, result.Reason)
	}

	e.notify(models.SyncNotice{
		Kind:       models.NoticeRejected,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		BatchID:    entry.BatchID,
		Reason:     result.Reason,
	})
	return nil
}

func (e *SyncEngine) setState(state EngineState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *SyncEngine) notify(notice models.SyncNotice) {
	if e.metrics != nil {
		e.metrics.RecordNotice(context.Background(), notice.Kind)
	}
	select {
	case e.notices <- notice:
	default:
		e.logger.Warn("notice channel full, dropping notice")
	}
}

func buildSyncRequest(batch []*models.MutationLogEntry) *models.SyncMutationsRequest {
	req := &models.SyncMutationsRequest{
		Mutations: make([]models.WireMutation, 0, len(batch)),
	}

	groups := make(map[string][]string)
	var groupOrder []string
	for _, entry := range batch {
		req.Mutations = append(req.Mutations, models.WireMutation{
			EntityType:  entry.EntityType,
			EntityID:    entry.EntityID,
			Op:          entry.Op,
			Payload:     entry.Payload,
			BaseVersion: entry.BaseVersion,
		})
		if entry.BatchID != "" {
			if _, ok := groups[entry.BatchID]; !ok {
				groupOrder = append(groupOrder, entry.BatchID)
			}
			groups[entry.BatchID] = append(groups[entry.BatchID], entry.EntityID)
		}
	}
	for _, batchID := range groupOrder {
		req.BatchGroups = append(req.BatchGroups, models.BatchGroup{
			BatchID:   batchID,
			EntityIDs: groups[batchID],
		})
	}
	return req
}

// matchResult pairs a response result with its mutation, by position first
// and by entity id as a fallback
func matchResult(results []models.MutationResult, entry *models.MutationLogEntry, idx int) *models.MutationResult {
	if idx < len(results) && results[idx].EntityID == entry.EntityID {
		return &results[idx]
	}
	for i := range results {
		if results[i].EntityID == entry.EntityID {
			return &results[i]
		}
	}
	return nil
}
