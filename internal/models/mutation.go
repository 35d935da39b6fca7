package models

import (
	"time"

	"github.com/google/uuid"
)

// MutationOp is the kind of change a journal entry carries
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpUpdate MutationOp = "update"
	OpDelete MutationOp = "delete"
)

// IsValid reports whether op is a known mutation op
func (op MutationOp) IsValid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Mutation status constants
const (
	MutationStatusPending   = "pending"
	MutationStatusInFlight  = "in_flight"
	MutationStatusFailed    = "failed"
	MutationStatusConfirmed = "confirmed"
)

// MutationLogEntry is one pending local change awaiting remote confirmation.
// Entries for the same entity must be drained in CreatedAt order; entries
// sharing a BatchID were submitted as one logical user action and are sent
// together; BatchTotal carries the batch's member count on each of them so
// aggregate batch status can be rebuilt from the journal after a restart.
// Prior holds the entity snapshot taken before the optimistic
// effect was applied, so a rejected batch member can be rolled back.
type MutationLogEntry struct {
	ID          string     `json:"id"`
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	Op          MutationOp `json:"op"`
	Payload     Fields     `json:"payload,omitempty"`
	BaseVersion int64      `json:"baseVersion"`
	BatchID     string     `json:"batchId,omitempty"`
	BatchTotal  int        `json:"batchTotal,omitempty"`
	Attempt     int        `json:"attempt"`
	Status      string     `json:"status"`
	FailReason  string     `json:"failReason,omitempty"`
	Resubmitted bool       `json:"resubmitted,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Prior       *Entity    `json:"prior,omitempty"`
}

// NewMutationLogEntry creates a pending journal entry for the given change
func NewMutationLogEntry(entityType EntityType, entityID string, op MutationOp, payload Fields, baseVersion int64) (*MutationLogEntry, error) {
	if !entityType.IsValid() {
		return nil, ErrUnknownEntityType
	}
	if entityID == "" {
		return nil, ErrEmptyEntityID
	}
	if !op.IsValid() {
		return nil, ErrUnknownMutationOp
	}
	return &MutationLogEntry{
		ID:          uuid.New().String(),
		EntityType:  entityType,
		EntityID:    entityID,
		Op:          op,
		Payload:     payload.Clone(),
		BaseVersion: baseVersion,
		Status:      MutationStatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Clone returns a copy of the entry with its own payload map
func (m *MutationLogEntry) Clone() *MutationLogEntry {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = m.Payload.Clone()
	c.Prior = m.Prior.Clone()
	return &c
}
