package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBranch is created with every project.
const DefaultBranch = "main"

// Branch is a named pointer to a snapshot within a project.
type Branch struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ProjectID         uuid.UUID  `db:"project_id" json:"project_id"`
	Name              string     `db:"name" json:"name"`
	CurrentSnapshotID *uuid.UUID `db:"current_snapshot_id" json:"current_snapshot_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (Branch) TableName() string {
	return "branches"
}
