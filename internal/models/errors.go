package models

// SyncError is a typed error for sync-core failures
type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	ErrEmptyEntityID        = SyncError{"entity id cannot be empty"}
	ErrUnknownEntityType    = SyncError{"unknown entity type"}
	ErrUnknownMutationOp    = SyncError{"unknown mutation op"}
	ErrInvalidCommentParent = SyncError{"comment must reference exactly one of photoId or albumId"}
	ErrEmptyAlbumID         = SyncError{"photo must belong to an album"}
	ErrEmptyName            = SyncError{"name cannot be empty"}
	ErrEntityNotFound       = SyncError{"entity not found"}
	ErrEntryNotFound        = SyncError{"mutation log entry not found"}
	ErrBatchNotFound        = SyncError{"batch not found"}
	ErrQueueFull            = SyncError{"mutation log is full"}
	ErrNetworkUnreachable   = SyncError{"remote store is unreachable"}
	ErrUnauthorized         = SyncError{"sync credential was rejected"}
)

// ErrorResponse is a generic API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
