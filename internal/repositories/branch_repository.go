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

const branchesTable = "branches"

// BranchRepository handles database operations for branches
type BranchRepository struct {
	*Repository
	branches *database.Struct
}

func NewBranchRepository(db database.DB, logger ectologger.Logger) *BranchRepository {
	return &BranchRepository{
		Repository: NewRepository(db, logger),
		branches:   database.NewStruct(new(models.Branch), db.Flavor()),
	}
}

func (r *BranchRepository) Create(ctx context.Context, branch *models.Branch) error {
	ctx, span := tracing.StartSpan(ctx, "BranchRepository.Create")
	defer span.End()

	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	now := time.Now().UTC()
	branch.CreatedAt, branch.UpdatedAt = now, now

	query, args := r.branches.InsertInto(branchesTable, branch).Build()
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflictf("branch %q already exists", branch.Name)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id":  branch.ProjectID,
			"branch_name": branch.Name,
		}).Error("failed to create branch")
		return err
	}
	return nil
}

func (r *BranchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	ctx, span := tracing.StartSpan(ctx, "BranchRepository.GetByID")
	defer span.End()

	sb := r.branches.SelectFrom(branchesTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var branch models.Branch
	err := r.conn(ctx).GetContext(ctx, &branch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("branch %s does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func (r *BranchRepository) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error) {
	ctx, span := tracing.StartSpan(ctx, "BranchRepository.GetByName")
	defer span.End()

	sb := r.branches.SelectFrom(branchesTable)
	sb.Where(sb.Equal("project_id", projectID), sb.Equal("name", name))

	query, args := sb.Build()
	var branch models.Branch
	err := r.conn(ctx).GetContext(ctx, &branch, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("branch '%s' does not exist", name)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id":  projectID,
			"branch_name": name,
		}).Error("failed to get branch by name")
		return nil, err
	}
	return &branch, nil
}

// GetOrCreate returns the named branch, creating it when missing.
func (r *BranchRepository) GetOrCreate(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error) {
	branch, err := r.GetByName(ctx, projectID, name)
	if err == nil {
		return branch, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	branch = &models.Branch{ProjectID: projectID, Name: name}
	if err := r.Create(ctx, branch); err != nil {
		if apperrors.IsConflict(err) {
			return r.GetByName(ctx, projectID, name)
		}
		return nil, err
	}
	return branch, nil
}

func (r *BranchRepository) List(ctx context.Context, projectID uuid.UUID) ([]models.Branch, error) {
	ctx, span := tracing.StartSpan(ctx, "BranchRepository.List")
	defer span.End()

	sb := r.branches.SelectFrom(branchesTable)
	sb.Where(sb.Equal("project_id", projectID)).OrderBy("name")

	query, args := sb.Build()
	branches := []models.Branch{}
	if err := r.conn(ctx).SelectContext(ctx, &branches, query, args...); err != nil {
		return nil, err
	}
	return branches, nil
}

// SetCurrentSnapshot moves the branch pointer.
func (r *BranchRepository) SetCurrentSnapshot(ctx context.Context, branchID, snapshotID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "BranchRepository.SetCurrentSnapshot")
	defer span.End()

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(branchesTable).
		Set(ub.Assign("current_snapshot_id", snapshotID), ub.Assign("updated_at", time.Now().UTC())).
		Where(ub.Equal("id", branchID))

	query, args := ub.Build()
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"branch_id":   branchID,
			"snapshot_id": snapshotID,
		}).Error("failed to move branch pointer")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("branch %s does not exist", branchID)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"branch_id":   branchID,
		"snapshot_id": snapshotID,
	}).Info("Branch pointer moved")
	return nil
}
