package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const (
	snapshotItemsTable = "snapshot_items"

	// itemInsertChunk keeps multi-row inserts under driver parameter limits.
	itemInsertChunk = 500
)

// SnapshotItemRepository handles database operations for snapshot items
type SnapshotItemRepository struct {
	*Repository
	items *database.Struct
}

func NewSnapshotItemRepository(db database.DB, logger ectologger.Logger) *SnapshotItemRepository {
	return &SnapshotItemRepository{
		Repository: NewRepository(db, logger),
		items:      database.NewStruct(new(models.SnapshotItem), db.Flavor()),
	}
}

// InsertBatch writes items in one transaction. A second item for the same
// (snapshot, type, id) is a Conflict and nothing from the batch is kept.
func (r *SnapshotItemRepository) InsertBatch(ctx context.Context, items []models.SnapshotItem) (err error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.InsertBatch")
	defer span.End()

	if len(items) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		key := it.SnapshotID.String() + "|" + it.Key()
		if _, dup := seen[key]; dup {
			return apperrors.Conflictf("duplicate snapshot item %s in snapshot %s", it.Key(), it.SnapshotID)
		}
		seen[key] = struct{}{}
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	err = chunk(len(items), itemInsertChunk, func(start, end int) error {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(snapshotItemsTable).Cols("snapshot_id", "object_type", "object_id", "content_hash", "created_at")
		for i := start; i < end; i++ {
			it := items[i]
			ib.Values(it.SnapshotID, it.ObjectType, it.ObjectID, it.ContentHash, now)
		}
		query, args := ib.Build()
		_, execErr := tx.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Wrap(apperrors.KindConflict, err, "snapshot item already recorded")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"items": len(items),
		}).Error("failed to insert snapshot items")
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"items": len(items),
	}).Debugf("Inserted %s", snapshotItemsTable)
	return nil
}

// ListBySnapshot returns the items of a snapshot, optionally filtered by type,
// ordered by (type, id).
func (r *SnapshotItemRepository) ListBySnapshot(ctx context.Context, snapshotID uuid.UUID, objectType string) ([]models.SnapshotItem, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.ListBySnapshot")
	defer span.End()

	sb := r.items.SelectFrom(snapshotItemsTable)
	sb.Where(sb.Equal("snapshot_id", snapshotID))
	if objectType != "" {
		sb.Where(sb.Equal("object_type", objectType))
	}
	sb.OrderBy("object_type", "object_id")

	query, args := sb.Build()
	items := []models.SnapshotItem{}
	if err := r.conn(ctx).SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"snapshot_id": snapshotID,
		}).Error("failed to list snapshot items")
		return nil, err
	}
	return items, nil
}

// Each streams the items of a snapshot to fn. fn must not use the store.
func (r *SnapshotItemRepository) Each(ctx context.Context, snapshotID uuid.UUID, fn func(models.SnapshotItem) error) error {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.Each")
	defer span.End()

	sb := r.items.SelectFrom(snapshotItemsTable)
	sb.Where(sb.Equal("snapshot_id", snapshotID))

	query, args := sb.Build()
	rows, err := r.conn(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.SnapshotItem
		if err := rows.StructScan(&item); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Inventory maps "type/id" to content hash for a snapshot in a single pass.
func (r *SnapshotItemRepository) Inventory(ctx context.Context, snapshotID uuid.UUID) (map[string]string, error) {
	inventory := map[string]string{}
	err := r.Each(ctx, snapshotID, func(item models.SnapshotItem) error {
		inventory[item.Key()] = item.ContentHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inventory, nil
}

// Hashes returns every content hash of a snapshot.
func (r *SnapshotItemRepository) Hashes(ctx context.Context, snapshotID uuid.UUID) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.Hashes")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("content_hash").From(snapshotItemsTable).Where(sb.Equal("snapshot_id", snapshotID))

	query, args := sb.Build()
	hashes := []string{}
	if err := r.conn(ctx).SelectContext(ctx, &hashes, query, args...); err != nil {
		return nil, err
	}
	return hashes, nil
}

// CountByType returns per-type item counts of a snapshot.
func (r *SnapshotItemRepository) CountByType(ctx context.Context, snapshotID uuid.UUID) (map[string]int, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.CountByType")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("object_type", sb.As("COUNT(*)", "n")).
		From(snapshotItemsTable).
		Where(sb.Equal("snapshot_id", snapshotID)).
		GroupBy("object_type")

	query, args := sb.Build()
	var rows []struct {
		ObjectType string `db:"object_type"`
		N          int    `db:"n"`
	}
	if err := r.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.ObjectType] = row.N
	}
	return counts, nil
}

// Types lists the distinct object types recorded in a snapshot.
func (r *SnapshotItemRepository) Types(ctx context.Context, snapshotID uuid.UUID) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotItemRepository.Types")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("object_type").Distinct().
		From(snapshotItemsTable).
		Where(sb.Equal("snapshot_id", snapshotID)).
		OrderBy("object_type")

	query, args := sb.Build()
	types := []string{}
	if err := r.conn(ctx).SelectContext(ctx, &types, query, args...); err != nil {
		return nil, err
	}
	return types, nil
}
