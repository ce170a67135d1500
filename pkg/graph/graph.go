// Package graph stores the typed links between a project's entities and
// derives the dependency order used to replay snapshots.
package graph

import (
	"context"
)

// Link is an outgoing relationship of an entity of a known source type.
type Link struct {
	FromID string `json:"from_id"`
	ToType string `json:"to_type"`
	ToID   string `json:"to_id"`
	Role   string `json:"role,omitempty"`
}

// Edge is a fully qualified link.
type Edge struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	ToType   string `json:"to_type"`
	ToID     string `json:"to_id"`
	Role     string `json:"role,omitempty"`
}

// Store is a graph backend. Implementations hold the state of the most
// recent completed sync of each project only.
type Store interface {
	// Clear removes every entity and link of a project.
	Clear(ctx context.Context, project string) error
	// AddEntities registers entities so that unlinked ones still exist for Orphans.
	AddEntities(ctx context.Context, project, objectType string, ids []string) error
	// LinkBatch merges links; an existing (from, to) link gets its role updated.
	LinkBatch(ctx context.Context, project, fromType string, links []Link) error
	// Links lists the outgoing links of a type ordered by (from_id, to_type, to_id).
	Links(ctx context.Context, project, fromType string) ([]Edge, error)
	// Dependencies maps every known type to the distinct types it references.
	Dependencies(ctx context.Context, project string) (map[string][]string, error)
	// Orphans lists ids of sourceType entities with no link to any targetType entity.
	Orphans(ctx context.Context, project, sourceType, targetType string) ([]string, error)
	// Relations groups the targets of one entity by type.
	Relations(ctx context.Context, project, objectType, id string) (map[string][]string, error)
}

// Batch is the full graph state produced by one sync.
type Batch struct {
	Entities map[string][]string // type -> ids
	Links    map[string][]Link   // from type -> links
}

// NewBatch returns an empty Batch.
func NewBatch() *Batch {
	return &Batch{Entities: map[string][]string{}, Links: map[string][]Link{}}
}

// AddEntity stages an entity and its links.
func (b *Batch) AddEntity(objectType, id string, links ...Link) {
	b.Entities[objectType] = append(b.Entities[objectType], id)
	b.Links[objectType] = append(b.Links[objectType], links...)
}

// Size is the number of staged links.
func (b *Batch) Size() int {
	n := 0
	for _, l := range b.Links {
		n += len(l)
	}
	return n
}
