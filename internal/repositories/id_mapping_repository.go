package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const (
	idMappingsTable = "id_mappings"

	// maxMappingHops bounds translation chains (a -> b -> c) and breaks cycles.
	maxMappingHops = 16
)

// IdMappingRepository is the append-only log of identifier translations.
type IdMappingRepository struct {
	*Repository
	mappings *database.Struct
}

func NewIdMappingRepository(db database.DB, logger ectologger.Logger) *IdMappingRepository {
	return &IdMappingRepository{
		Repository: NewRepository(db, logger),
		mappings:   database.NewStruct(new(models.IdMapping), db.Flavor()),
	}
}

// Record appends a translation.
func (r *IdMappingRepository) Record(ctx context.Context, mapping *models.IdMapping) error {
	ctx, span := tracing.StartSpan(ctx, "IdMappingRepository.Record")
	defer span.End()

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	mapping.CreatedAt = time.Now().UTC()

	query, args := r.mappings.InsertInto(idMappingsTable, mapping).Build()
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"object_type": mapping.ObjectType,
			"old_id":      mapping.OldID,
			"new_id":      mapping.NewID,
		}).Error("failed to record id mapping")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"object_type": mapping.ObjectType,
		"old_id":      mapping.OldID,
		"new_id":      mapping.NewID,
	}).Info("Recorded id mapping")
	return nil
}

// Latest returns the most recent translation of oldID, if any.
func (r *IdMappingRepository) Latest(ctx context.Context, projectID uuid.UUID, objectType, oldID string) (string, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "IdMappingRepository.Latest")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("new_id").From(idMappingsTable).
		Where(sb.Equal("project_id", projectID), sb.Equal("object_type", objectType), sb.Equal("old_id", oldID)).
		OrderBy("created_at").Desc().Limit(1)

	query, args := sb.Build()
	var newID string
	err := r.conn(ctx).GetContext(ctx, &newID, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return newID, true, nil
}

// Resolve follows translations from id to its current identifier. An id that
// was never translated resolves to itself.
func (r *IdMappingRepository) Resolve(ctx context.Context, projectID uuid.UUID, objectType, id string) (string, error) {
	current := id
	for hop := 0; hop < maxMappingHops; hop++ {
		next, ok, err := r.Latest(ctx, projectID, objectType, current)
		if err != nil {
			return "", err
		}
		if !ok || next == current || next == id {
			return current, nil
		}
		current = next
	}
	return current, nil
}

// ListByProject returns a project's translations in recording order.
func (r *IdMappingRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.IdMapping, error) {
	ctx, span := tracing.StartSpan(ctx, "IdMappingRepository.ListByProject")
	defer span.End()

	sb := r.mappings.SelectFrom(idMappingsTable)
	sb.Where(sb.Equal("project_id", projectID)).OrderBy("created_at")

	query, args := sb.Build()
	mappings := []models.IdMapping{}
	if err := r.conn(ctx).SelectContext(ctx, &mappings, query, args...); err != nil {
		return nil, err
	}
	return mappings, nil
}
