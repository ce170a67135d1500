package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
)

// IdMapping records that a restore changed a live identifier.
type IdMapping struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ProjectID  uuid.UUID  `db:"project_id" json:"project_id"`
	SnapshotID *uuid.UUID `db:"snapshot_id" json:"snapshot_id,omitempty"`
	ObjectType string     `db:"object_type" json:"object_type"`
	OldID      string     `db:"old_id" json:"old_id"`
	NewID      string     `db:"new_id" json:"new_id"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func (IdMapping) TableName() string {
	return "id_mappings"
}

// NormalizedRecord is the latest merged state of one record.
type NormalizedRecord struct {
	ProjectID      uuid.UUID                      `db:"project_id" json:"project_id"`
	ObjectType     string                         `db:"object_type" json:"object_type"`
	GlobalID       string                         `db:"global_id" json:"global_id"`
	Data           database.JSONB[map[string]any] `db:"data" json:"data"`
	LastSnapshotID *uuid.UUID                     `db:"last_snapshot_id" json:"last_snapshot_id,omitempty"`
	CreatedAt      time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                      `db:"updated_at" json:"updated_at"`
}

func (NormalizedRecord) TableName() string {
	return "normalized_storage"
}
