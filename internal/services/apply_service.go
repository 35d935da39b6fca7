package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/repository"
)

// FeedBroadcaster pushes accepted mutations to connected clients. The apply
// service broadcasts best-effort; delivery is not part of the sync contract.
type FeedBroadcaster interface {
	Broadcast(event models.FeedEvent)
}

// ApplyService is the reference sync server's mutation processor. It applies
// submitted mutations against the authoritative store one at a time,
// detecting version conflicts and enforcing referential rules, and replays
// recorded results for mutations it has already accepted so client
// resubmission after a crash is safe.
type ApplyService struct {
	repo   repository.ServerEntityRepo
	feed   FeedBroadcaster
	logger *observability.Logger
}

// NewApplyService creates an ApplyService. feed may be nil.
func NewApplyService(repo repository.ServerEntityRepo, feed FeedBroadcaster) *ApplyService {
	return &ApplyService{
		repo:   repo,
		feed:   feed,
		logger: observability.GetLogger().WithField("component", "apply_service"),
	}
}

// Apply processes one sync request and returns a verdict per mutation, in
// submission order
func (s *ApplyService) Apply(ctx context.Context, req *models.SyncMutationsRequest) (*models.SyncMutationsResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "apply_service", "apply")
	defer span.End()

	resp := &models.SyncMutationsResponse{
		Results: make([]models.MutationResult, 0, len(req.Mutations)),
	}

	for i := range req.Mutations {
		result, err := s.applyOne(ctx, &req.Mutations[i], req.DeviceID)
		if err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
		resp.Results = append(resp.Results, *result)
	}

	observability.SetSuccess(span)
	return resp, nil
}

func (s *ApplyService) applyOne(ctx context.Context, m *models.WireMutation, deviceID string) (*models.MutationResult, error) {
	if !m.EntityType.IsValid() {
		return rejected(m.EntityID, "unknown entity type"), nil
	}
	if !m.Op.IsValid() {
		return rejected(m.EntityID, "unknown operation"), nil
	}
	if m.EntityID == "" {
		return rejected(m.EntityID, "missing entity id"), nil
	}

	// Replay: a mutation already accepted under this (entity, op, baseVersion)
	// key returns its recorded result. Conflicts and rejections are not
	// recorded; they are re-evaluated against current state.
	replayed, err := s.repo.GetAppliedResult(ctx, m.EntityID, m.Op, m.BaseVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to check applied mutations: %w", err)
	}
	if replayed != nil {
		return replayed, nil
	}

	var result *models.MutationResult
	switch m.Op {
	case models.OpCreate:
		result, err = s.applyCreate(ctx, m)
	case models.OpUpdate:
		result, err = s.applyUpdate(ctx, m)
	case models.OpDelete:
		result, err = s.applyDelete(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	if result.Outcome == models.OutcomeAccepted {
		if err := s.repo.RecordApplied(ctx, m.EntityID, m.Op, m.BaseVersion, result); err != nil {
			return nil, fmt.Errorf("failed to record applied mutation: %w", err)
		}
		if s.feed != nil && result.ServerEntity != nil {
			s.feed.Broadcast(models.FeedEvent{
				EntityType: result.ServerEntity.Type,
				EntityID:   result.ServerEntity.ID,
				Op:         m.Op,
				Version:    result.ServerEntity.Version,
				DeviceID:   deviceID,
			})
		}
	}
	return result, nil
}

func (s *ApplyService) applyCreate(ctx context.Context, m *models.WireMutation) (*models.MutationResult, error) {
	existing, err := s.getEntity(ctx, m.EntityID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Duplicate id with a different (op, baseVersion) key than any
		// recorded accept: another writer got here first.
		return conflict(m.EntityID, existing), nil
	}

	entity := &models.Entity{
		ID:        m.EntityID,
		Type:      m.EntityType,
		Fields:    m.Payload.Clone(),
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	if err := entity.Validate(); err != nil {
		return rejected(m.EntityID, err.Error()), nil
	}
	if reason, err := s.checkParents(ctx, entity); err != nil {
		return nil, err
	} else if reason != "" {
		return rejected(m.EntityID, reason), nil
	}

	if err := s.repo.Upsert(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to store entity: %w", err)
	}
	return accepted(m.EntityID, entity), nil
}

func (s *ApplyService) applyUpdate(ctx context.Context, m *models.WireMutation) (*models.MutationResult, error) {
	current, err := s.getEntity(ctx, m.EntityID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return rejected(m.EntityID, "entity does not exist"), nil
	}
	if current.Deleted {
		return rejected(m.EntityID, "entity deleted"), nil
	}
	if current.Version != m.BaseVersion {
		return conflict(m.EntityID, current), nil
	}

	next := current.Clone()
	if next.Fields == nil {
		next.Fields = models.Fields{}
	}
	for k, v := range m.Payload {
		next.Fields[k] = v
	}
	if err := next.Validate(); err != nil {
		return rejected(m.EntityID, err.Error()), nil
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store entity: %w", err)
	}
	return accepted(m.EntityID, next), nil
}

func (s *ApplyService) applyDelete(ctx context.Context, m *models.WireMutation) (*models.MutationResult, error) {
	current, err := s.getEntity(ctx, m.EntityID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return rejected(m.EntityID, "entity does not exist"), nil
	}
	if current.Deleted {
		return rejected(m.EntityID, "entity already deleted"), nil
	}
	if current.Version != m.BaseVersion {
		return conflict(m.EntityID, current), nil
	}

	next := current.Clone()
	next.Deleted = true
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := s.repo.Upsert(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store entity: %w", err)
	}
	return accepted(m.EntityID, next), nil
}

// checkParents enforces referential rules on create: a photo needs a live
// album, a comment a live parent, an album with a groupId a live group.
// Returns a rejection reason, or empty when the entity is fine.
func (s *ApplyService) checkParents(ctx context.Context, entity *models.Entity) (string, error) {
	switch entity.Type {
	case models.EntityPhoto:
		return s.requireLive(ctx, entity.Fields.String("albumId"), models.EntityAlbum, "album does not exist")
	case models.EntityComment:
		if photoID := entity.Fields.String("photoId"); photoID != "" {
			return s.requireLive(ctx, photoID, models.EntityPhoto, "photo does not exist")
		}
		return s.requireLive(ctx, entity.Fields.String("albumId"), models.EntityAlbum, "album does not exist")
	case models.EntityAlbum:
		if groupID := entity.Fields.String("groupId"); groupID != "" {
			return s.requireLive(ctx, groupID, models.EntityGroup, "group does not exist")
		}
	}
	return "", nil
}

func (s *ApplyService) requireLive(ctx context.Context, id string, entityType models.EntityType, reason string) (string, error) {
	if id == "" {
		return reason, nil
	}
	parent, err := s.getEntity(ctx, id)
	if err != nil {
		return "", err
	}
	if parent == nil || parent.Type != entityType || parent.Deleted {
		return reason, nil
	}
	return "", nil
}

func (s *ApplyService) getEntity(ctx context.Context, id string) (*models.Entity, error) {
	entity, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	return entity, nil
}

// Status summarizes the authoritative store for GET /api/sync/status
func (s *ApplyService) Status(ctx context.Context) (*models.SyncStatusResponse, error) {
	counts, err := s.repo.CountByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	maxVersion, err := s.repo.MaxVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read max version: %w", err)
	}
	return &models.SyncStatusResponse{
		EntityCounts:  counts,
		ServerVersion: maxVersion,
		ServerTime:    time.Now().UTC(),
	}, nil
}

func accepted(entityID string, entity *models.Entity) *models.MutationResult {
	return &models.MutationResult{EntityID: entityID, Outcome: models.OutcomeAccepted, ServerEntity: entity}
}

func conflict(entityID string, current *models.Entity) *models.MutationResult {
	return &models.MutationResult{EntityID: entityID, Outcome: models.OutcomeConflict, ServerEntity: current}
}

func rejected(entityID, reason string) *models.MutationResult {
	return &models.MutationResult{EntityID: entityID, Outcome: models.OutcomeRejected, Reason: reason}
}
