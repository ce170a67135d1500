package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const normalizedTable = "normalized_storage"

// NormalizedRepository stores the merged latest state per record.
type NormalizedRepository struct {
	*Repository
	records *database.Struct
}

func NewNormalizedRepository(db database.DB, logger ectologger.Logger) *NormalizedRepository {
	return &NormalizedRepository{
		Repository: NewRepository(db, logger),
		records:    database.NewStruct(new(models.NormalizedRecord), db.Flavor()),
	}
}

// UpsertBatch overwrites records keyed by (project, type, global id).
func (r *NormalizedRepository) UpsertBatch(ctx context.Context, records []models.NormalizedRecord) error {
	ctx, span := tracing.StartSpan(ctx, "NormalizedRepository.UpsertBatch")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	return chunk(len(records), itemInsertChunk, func(start, end int) error {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(normalizedTable).
			Cols("project_id", "object_type", "global_id", "data", "last_snapshot_id", "created_at", "updated_at")
		for i := start; i < end; i++ {
			rec := records[i]
			ib.Values(rec.ProjectID, rec.ObjectType, rec.GlobalID, rec.Data, rec.LastSnapshotID, now, now)
		}
		ib.OnConflictUpdate([]string{"project_id", "object_type", "global_id"}, "data", "last_snapshot_id", "updated_at")

		query, args := ib.Build()
		if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"records": end - start,
			}).Error("failed to upsert normalized records")
			return err
		}
		return nil
	})
}

func (r *NormalizedRepository) Get(ctx context.Context, projectID uuid.UUID, objectType, globalID string) (*models.NormalizedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "NormalizedRepository.Get")
	defer span.End()

	sb := r.records.SelectFrom(normalizedTable)
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("object_type", objectType), sb.Equal("global_id", globalID))

	query, args := sb.Build()
	var rec models.NormalizedRecord
	err := r.conn(ctx).GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("no normalized %s record %s", objectType, globalID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetMany loads the records of a type with the given global ids.
func (r *NormalizedRepository) GetMany(ctx context.Context, projectID uuid.UUID, objectType string, globalIDs []string) (map[string]models.NormalizedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "NormalizedRepository.GetMany")
	defer span.End()

	out := make(map[string]models.NormalizedRecord, len(globalIDs))
	err := chunk(len(globalIDs), itemInsertChunk, func(start, end int) error {
		ids := make([]any, 0, end-start)
		for _, id := range globalIDs[start:end] {
			ids = append(ids, id)
		}
		sb := r.records.SelectFrom(normalizedTable)
		sb.Where(sb.Equal("project_id", projectID), sb.Equal("object_type", objectType), sb.In("global_id", ids...))

		query, args := sb.Build()
		var recs []models.NormalizedRecord
		if err := r.conn(ctx).SelectContext(ctx, &recs, query, args...); err != nil {
			return err
		}
		for _, rec := range recs {
			out[rec.GlobalID] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *NormalizedRepository) List(ctx context.Context, projectID uuid.UUID, objectType string) ([]models.NormalizedRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "NormalizedRepository.List")
	defer span.End()

	sb := r.records.SelectFrom(normalizedTable)
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("object_type", objectType)).OrderBy("global_id")

	query, args := sb.Build()
	recs := []models.NormalizedRecord{}
	if err := r.conn(ctx).SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, err
	}
	return recs, nil
}
