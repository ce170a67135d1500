// Package connectors defines the capability set the snapshot and restore
// engines consume from a source system.
package connectors

import (
	"context"

	"github.com/Bafix001/zibridge/pkg/models"
)

const (
	SourceHubSpot = "hubspot"
	SourceCSV     = "csv"
	SourceFile    = "file"
	SourceMemory  = "memory"
)

// PushStatus is the outcome of pushing one entity's fields to a live system.
type PushStatus string

const (
	// PushUpdated means the live entity existed and was patched in place.
	PushUpdated PushStatus = "updated"
	// PushResurrected means the live entity was gone and was recreated under a new id.
	PushResurrected PushStatus = "resurrected"
	// PushMerged means the live system folded the push into another existing entity.
	PushMerged PushStatus = "merged"
	PushFailed PushStatus = "failed"
)

// PushResult carries the live id the entity ends up under. LiveID differs
// from the pushed id for resurrected and merged results.
type PushResult struct {
	Status PushStatus `json:"status"`
	LiveID string     `json:"live_id,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// UpsertResult pairs the snapshot id of an entity with the id the live system assigned.
type UpsertResult struct {
	OldRef string `json:"old_ref"`
	LiveID string `json:"live_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Association is a link to create in the live system.
type Association struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	ToType   string `json:"to_type"`
	ToID     string `json:"to_id"`
	Role     string `json:"role,omitempty"`
}

type AssociationResult struct {
	Association
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Connector is implemented by every source.
//
// ExtractEntities starts a fresh, finite extraction on each call. The entity
// channel closes when the source has no further pages; at most one error is
// sent on the error channel, which is closed after the entity channel.
type Connector interface {
	SourceType() string
	TestConnection(ctx context.Context) bool
	AvailableObjectTypes(ctx context.Context) ([]string, error)
	ExtractEntities(ctx context.Context, objectType string) (<-chan models.Entity, <-chan error)
	Normalize(raw map[string]any, objectType string) models.Entity
	BatchUpsert(ctx context.Context, objectType string, entities []models.Entity) ([]UpsertResult, error)
	PushUpdate(ctx context.Context, objectType, liveID string, fields map[string]any) PushResult
	BatchCreateAssociations(ctx context.Context, links []Association) ([]AssociationResult, error)
	MaxBatchSize() int
}

// ExtractBuffer bounds how far a producer can run ahead of its consumer.
const ExtractBuffer = 100

// Collect drains an extraction into a slice.
func Collect(ctx context.Context, c Connector, objectType string) ([]models.Entity, error) {
	entities, errs := c.ExtractEntities(ctx, objectType)
	var out []models.Entity
	for e := range entities {
		out = append(out, e)
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
