package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const blobsTable = "blobs"

// BlobRefRepository keeps the registry of stored blobs that items reference.
type BlobRefRepository struct {
	*Repository
	blobs *database.Struct
}

func NewBlobRefRepository(db database.DB, logger ectologger.Logger) *BlobRefRepository {
	return &BlobRefRepository{
		Repository: NewRepository(db, logger),
		blobs:      database.NewStruct(new(models.BlobRef), db.Flavor()),
	}
}

// RegisterBatch records blobs, ignoring hashes that are already registered.
func (r *BlobRefRepository) RegisterBatch(ctx context.Context, refs []models.BlobRef) error {
	ctx, span := tracing.StartSpan(ctx, "BlobRefRepository.RegisterBatch")
	defer span.End()

	if len(refs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	return chunk(len(refs), itemInsertChunk, func(start, end int) error {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(blobsTable).Cols("hash", "content_type", "size", "created_at")
		for i := start; i < end; i++ {
			ib.Values(refs[i].Hash, refs[i].ContentType, refs[i].Size, now)
		}
		ib.OnConflictDoNothing("hash")

		query, args := ib.Build()
		if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"blobs": end - start,
			}).Error("failed to register blobs")
			return err
		}
		return nil
	})
}

func (r *BlobRefRepository) Get(ctx context.Context, hash string) (*models.BlobRef, error) {
	ctx, span := tracing.StartSpan(ctx, "BlobRefRepository.Get")
	defer span.End()

	sb := r.blobs.SelectFrom(blobsTable)
	sb.Where(sb.Equal("hash", hash))

	query, args := sb.Build()
	var ref models.BlobRef
	err := r.conn(ctx).GetContext(ctx, &ref, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("blob %s is not registered", hash)
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
