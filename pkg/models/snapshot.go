package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
)

type SnapshotStatus string

const (
	SnapshotPending   SnapshotStatus = "pending"
	SnapshotRunning   SnapshotStatus = "running"
	SnapshotCompleted SnapshotStatus = "completed"
	SnapshotFailed    SnapshotStatus = "failed"
)

// Snapshot is an immutable capture of a project's entity population once completed.
type Snapshot struct {
	ID               uuid.UUID                      `db:"id" json:"id"`
	ProjectID        uuid.UUID                      `db:"project_id" json:"project_id"`
	BranchID         *uuid.UUID                     `db:"branch_id" json:"branch_id,omitempty"`
	SourceName       string                         `db:"source_name" json:"source_name"`
	SourceType       string                         `db:"source_type" json:"source_type"`
	Status           SnapshotStatus                 `db:"status" json:"status"`
	RootHash         *string                        `db:"root_hash" json:"root_hash,omitempty"`
	TotalObjects     int                            `db:"total_objects" json:"total_objects"`
	DetectedEntities database.JSONB[map[string]int] `db:"detected_entities" json:"detected_entities"`
	SyncConfig       database.JSONB[map[string]any] `db:"sync_config" json:"sync_config"`
	Error            *string                        `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time                      `db:"created_at" json:"created_at"`
	CompletedAt      *time.Time                     `db:"completed_at" json:"completed_at,omitempty"`
}

func (Snapshot) TableName() string {
	return "snapshots"
}

// SnapshotItem points an entity of a snapshot at its content blob.
type SnapshotItem struct {
	SnapshotID  uuid.UUID `db:"snapshot_id" json:"snapshot_id"`
	ObjectType  string    `db:"object_type" json:"object_type"`
	ObjectID    string    `db:"object_id" json:"object_id"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (SnapshotItem) TableName() string {
	return "snapshot_items"
}

// Key is the inventory key "type/id".
func (i SnapshotItem) Key() string {
	return i.ObjectType + "/" + i.ObjectID
}

// BlobRef registers a stored blob so items can reference it.
type BlobRef struct {
	Hash        string    `db:"hash" json:"hash"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size" json:"size"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (BlobRef) TableName() string {
	return "blobs"
}
