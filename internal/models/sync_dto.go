package models

import "time"

// Outcome classifies the server's verdict on one submitted mutation
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeConflict Outcome = "conflict"
	OutcomeRejected Outcome = "rejected"
)

// IsValid reports whether the outcome is one the client knows how to apply
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAccepted, OutcomeConflict, OutcomeRejected:
		return true
	}
	return false
}

// WireMutation is one mutation as sent to the sync endpoint
type WireMutation struct {
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	Op          MutationOp `json:"op"`
	Payload     Fields     `json:"payload,omitempty"`
	BaseVersion int64      `json:"baseVersion"`
}

// BatchGroup names the journal entries that belong to one batch operation
type BatchGroup struct {
	BatchID   string   `json:"batchId"`
	EntityIDs []string `json:"entityIds"`
}

// SyncMutationsRequest for POST /api/sync/mutations
type SyncMutationsRequest struct {
	DeviceID    string         `json:"deviceId,omitempty"`
	Mutations   []WireMutation `json:"mutations"`
	BatchGroups []BatchGroup   `json:"batchGroups,omitempty"`
}

// MutationResult is the server's verdict on one mutation
type MutationResult struct {
	EntityID     string  `json:"entityId"`
	Outcome      Outcome `json:"outcome"`
	ServerEntity *Entity `json:"serverEntity,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

// SyncMutationsResponse for POST /api/sync/mutations
type SyncMutationsResponse struct {
	Results []MutationResult `json:"results"`
}

// SyncStatusResponse for GET /api/sync/status
type SyncStatusResponse struct {
	EntityCounts  map[string]int `json:"entityCounts"`
	ServerVersion int64          `json:"serverVersion"`
	ServerTime    time.Time      `json:"serverTime"`
}

// FeedEvent is pushed over the websocket feed when a mutation is confirmed,
// so a device's other clients can refresh without polling
type FeedEvent struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Op         MutationOp `json:"op"`
	Version    int64      `json:"version"`
	DeviceID   string     `json:"deviceId,omitempty"`
}

// BatchState classifies the aggregate outcome of a batch operation
type BatchState string

const (
	BatchPending        BatchState = "pending"
	BatchPartialFailure BatchState = "partial_failure"
	BatchAllConfirmed   BatchState = "all_confirmed"
	BatchAllFailed      BatchState = "all_failed"
)

// BatchStatus reports how far a batch operation has progressed
type BatchStatus struct {
	BatchID   string     `json:"batchId"`
	State     BatchState `json:"state"`
	FailedIDs []string   `json:"failedIds,omitempty"`
}

// Notice kinds
const (
	NoticeConflictOverwritten = "conflict_overwritten"
	NoticeRejected            = "rejected"
	NoticeUnauthorized        = "unauthorized"
)

// HealthResponse for GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncNotice is a non-blocking notice surfaced to the UI layer: a conflict
// resolved against the local change, or a terminally failed mutation
type SyncNotice struct {
	Kind       string     `json:"kind"`
	EntityType EntityType `json:"entityType,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	BatchID    string     `json:"batchId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}
