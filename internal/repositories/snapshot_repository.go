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

const snapshotsTable = "snapshots"

// SnapshotRepository handles database operations for snapshots
type SnapshotRepository struct {
	*Repository
	snapshots *database.Struct
}

func NewSnapshotRepository(db database.DB, logger ectologger.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		Repository: NewRepository(db, logger),
		snapshots:  database.NewStruct(new(models.Snapshot), db.Flavor()),
	}
}

// Create inserts a snapshot. Status defaults to running.
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.Snapshot) error {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.Create")
	defer span.End()

	if snapshot.ID == uuid.Nil {
		snapshot.ID = uuid.New()
	}
	if snapshot.Status == "" {
		snapshot.Status = models.SnapshotRunning
	}
	if snapshot.DetectedEntities.Data == nil {
		snapshot.DetectedEntities = database.NewJSONB(map[string]int{})
	}
	if snapshot.SyncConfig.Data == nil {
		snapshot.SyncConfig = database.NewJSONB(map[string]any{})
	}
	snapshot.CreatedAt = time.Now().UTC()

	query, args := r.snapshots.InsertInto(snapshotsTable, snapshot).Build()
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": snapshot.ProjectID,
		}).Error("failed to create snapshot")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": snapshot.ID,
		"project_id":  snapshot.ProjectID,
	}).Debugf("Created %s", snapshotsTable)
	return nil
}

func (r *SnapshotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.GetByID")
	defer span.End()

	sb := r.snapshots.SelectFrom(snapshotsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var snapshot models.Snapshot
	err := r.conn(ctx).GetContext(ctx, &snapshot, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("snapshot %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"snapshot_id": id,
		}).Error("failed to get snapshot by ID")
		return nil, err
	}
	return &snapshot, nil
}

// ListByProject returns the project's snapshots, newest first. limit <= 0 returns all.
func (r *SnapshotRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.ListByProject")
	defer span.End()

	sb := r.snapshots.SelectFrom(snapshotsTable)
	sb.Where(sb.Equal("project_id", projectID)).OrderBy("created_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	snapshots := []models.Snapshot{}
	if err := r.conn(ctx).SelectContext(ctx, &snapshots, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": projectID,
		}).Error("failed to list snapshots")
		return nil, err
	}
	return snapshots, nil
}

// LatestCompleted returns the newest completed snapshot of a project.
func (r *SnapshotRepository) LatestCompleted(ctx context.Context, projectID uuid.UUID) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.LatestCompleted")
	defer span.End()

	sb := r.snapshots.SelectFrom(snapshotsTable)
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("status", models.SnapshotCompleted)).
		OrderBy("created_at").Desc().Limit(1)

	query, args := sb.Build()
	var snapshot models.Snapshot
	err := r.conn(ctx).GetContext(ctx, &snapshot, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("project %s has no completed snapshot", projectID)
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Complete finalizes a running snapshot. A snapshot is finalized at most once.
func (r *SnapshotRepository) Complete(ctx context.Context, id uuid.UUID, rootHash string, detected map[string]int) error {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.Complete")
	defer span.End()

	total := 0
	for _, n := range detected {
		total += n
	}

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(snapshotsTable).
		Set(
			ub.Assign("status", models.SnapshotCompleted),
			ub.Assign("root_hash", rootHash),
			ub.Assign("total_objects", total),
			ub.Assign("detected_entities", database.NewJSONB(detected)),
			ub.Assign("completed_at", time.Now().UTC()),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.SnapshotRunning))

	return r.transition(ctx, ub.Build, id, "complete")
}

// Fail marks a running snapshot failed. No root hash is recorded.
func (r *SnapshotRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.Fail")
	defer span.End()

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(snapshotsTable).
		Set(
			ub.Assign("status", models.SnapshotFailed),
			ub.Assign("error", reason),
			ub.Assign("completed_at", time.Now().UTC()),
		).
		Where(ub.Equal("id", id), ub.In("status", models.SnapshotRunning, models.SnapshotPending))

	return r.transition(ctx, ub.Build, id, "fail")
}

// Withdraw fails a completed snapshot whose side effects could not be
// published, dropping its root so it can never be diffed or restored.
func (r *SnapshotRepository) Withdraw(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.Withdraw")
	defer span.End()

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(snapshotsTable).
		Set(
			ub.Assign("status", models.SnapshotFailed),
			ub.Assign("root_hash", nil),
			ub.Assign("error", reason),
		).
		Where(ub.Equal("id", id), ub.Equal("status", models.SnapshotCompleted))

	return r.transition(ctx, ub.Build, id, "withdraw")
}

func (r *SnapshotRepository) transition(ctx context.Context, build func() (string, []any), id uuid.UUID, action string) error {
	query, args := build()
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"snapshot_id": id,
		}).Errorf("failed to %s snapshot", action)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Conflictf("snapshot %s cannot %s from its current status", id, action)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": id,
	}).Debugf("snapshot %s: %s", id, action)
	return nil
}
