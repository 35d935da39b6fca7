package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies the kind of synced entity
type EntityType string

const (
	EntityPhoto   EntityType = "photo"
	EntityComment EntityType = "comment"
	EntityAlbum   EntityType = "album"
	EntityGroup   EntityType = "group"
)

// IsValid reports whether t is a known entity type
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPhoto, EntityComment, EntityAlbum, EntityGroup:
		return true
	}
	return false
}

// Fields holds the mutable attributes of an entity (name, caption, albumId, ...)
type Fields map[string]interface{}

// Clone returns a shallow copy of the fields
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" if absent or not a string
func (f Fields) String(key string) string {
	if v, ok := f[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Entity is the sync envelope shared by photos, comments, albums and groups.
// IDs are client-generated so entities can be created offline; Version is
// bumped optimistically on local writes and reconciled to the server value
// once a mutation is accepted. Deleted entities are kept as tombstones until
// the remote confirms the deletion.
type Entity struct {
	ID        string     `json:"id"`
	Type      EntityType `json:"type"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Deleted   bool       `json:"deleted"`
	Fields    Fields     `json:"fields,omitempty"`
}

// Clone returns a copy of the entity with its own fields map
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Fields = e.Fields.Clone()
	return &c
}

// Validate enforces per-type invariants. A comment must reference exactly one
// parent: photoId or albumId, never both and never neither.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyEntityID
	}
	if !e.Type.IsValid() {
		return ErrUnknownEntityType
	}
	if e.Type == EntityComment {
		photoID := e.Fields.String("photoId")
		albumID := e.Fields.String("albumId")
		if (photoID == "") == (albumID == "") {
			return ErrInvalidCommentParent
		}
	}
	return nil
}

// NewPhoto creates a Photo entity. Photos belong to exactly one album.
func NewPhoto(albumID, remoteURL string) (*Entity, error) {
	if strings.TrimSpace(albumID) == "" {
		return nil, ErrEmptyAlbumID
	}
	return newEntity(EntityPhoto, Fields{
		"albumId":   albumID,
		"remoteUrl": remoteURL,
	})
}

// NewComment creates a Comment entity referencing either a photo or an album.
// Exactly one of photoID / albumID must be non-empty.
func NewComment(photoID, albumID, text string) (*Entity, error) {
	fields := Fields{"text": text}
	if photoID != "" {
		fields["photoId"] = photoID
	}
	if albumID != "" {
		fields["albumId"] = albumID
	}
	return newEntity(EntityComment, fields)
}

// NewAlbum creates an Album entity. groupID is optional.
func NewAlbum(name, groupID string) (*Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	fields := Fields{"name": name}
	if groupID != "" {
		fields["groupId"] = groupID
	}
	return newEntity(EntityAlbum, fields)
}

// NewGroup creates a Group entity
func NewGroup(name string) (*Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	return newEntity(EntityGroup, Fields{"name": name})
}

func newEntity(entityType EntityType, fields Fields) (*Entity, error) {
	e := &Entity{
		ID:        uuid.New().String(),
		Type:      entityType,
		Version:   0,
		UpdatedAt: time.Now().UTC(),
		Fields:    fields,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
