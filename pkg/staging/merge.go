// Package staging keeps the latest merged state of every record of a project,
// keyed by the project's unique key per type. It is a cache and can be
// rebuilt by merging snapshots in order.
package staging

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

// DefaultBatchSize is the number of records written per commit.
const DefaultBatchSize = 500

type Merger struct {
	db        database.DB
	reader    *snapshot.Reader
	records   *repositories.NormalizedRepository
	logger    ectologger.Logger
	batchSize int
}

func NewMerger(db database.DB, blobs blob.Store, logger ectologger.Logger) *Merger {
	return &Merger{
		db:        db,
		reader:    snapshot.NewReader(db, blobs, logger),
		records:   repositories.NewNormalizedRepository(db, logger),
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
}

// Merge overlays every entity of a snapshot onto the stored records. New
// values win, fields the snapshot no longer carries are kept.
func (m *Merger) Merge(ctx context.Context, projectID, snapshotID uuid.UUID, cfg models.ProjectConfig) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Merger.Merge")
	defer span.End()

	types, err := m.reader.Types(ctx, snapshotID)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, objectType := range types {
		entities, _, err := m.reader.Entities(ctx, snapshotID, objectType)
		if err != nil {
			return merged, err
		}

		uniqueKey := cfg.UniqueKey(objectType)
		for start := 0; start < len(entities); start += m.batchSize {
			end := min(start+m.batchSize, len(entities))
			n, err := m.mergeBatch(ctx, projectID, snapshotID, objectType, uniqueKey, entities[start:end])
			if err != nil {
				return merged, err
			}
			merged += n
		}
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":  projectID,
		"snapshot_id": snapshotID,
		"records":     merged,
	}).Info("Merged snapshot into staging")
	return merged, nil
}

func (m *Merger) mergeBatch(ctx context.Context, projectID, snapshotID uuid.UUID, objectType, uniqueKey string, entities []snapshot.StoredEntity) (n int, err error) {
	var order []string
	incoming := map[string]map[string]any{}
	for _, e := range entities {
		id := GlobalID(e.Properties, uniqueKey, e.ObjectID)
		data, ok := incoming[id]
		if !ok {
			data = map[string]any{}
			incoming[id] = data
			order = append(order, id)
		}
		for k, v := range e.Properties {
			data[k] = v
		}
	}

	ctx, tx, err := m.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, err := m.records.GetMany(ctx, projectID, objectType, order)
	if err != nil {
		return 0, fmt.Errorf("failed to load staged records: %w", err)
	}

	records := make([]models.NormalizedRecord, 0, len(order))
	for _, id := range order {
		data := map[string]any{}
		if prev, ok := existing[id]; ok {
			for k, v := range prev.Data.Data {
				data[k] = v
			}
		}
		for k, v := range incoming[id] {
			data[k] = v
		}
		records = append(records, models.NormalizedRecord{
			ProjectID:      projectID,
			ObjectType:     objectType,
			GlobalID:       id,
			Data:           database.NewJSONB(data),
			LastSnapshotID: &snapshotID,
		})
	}

	if err = m.records.UpsertBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to upsert staged records: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// GlobalID is the value of the unique key, or fallback when the record has none.
func GlobalID(props map[string]any, uniqueKey, fallback string) string {
	if v, ok := props[uniqueKey]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return fallback
}
