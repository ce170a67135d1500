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

const projectsTable = "projects"

// ProjectRepository handles database operations for projects
type ProjectRepository struct {
	*Repository
	projects *database.Struct
}

func NewProjectRepository(db database.DB, logger ectologger.Logger) *ProjectRepository {
	return &ProjectRepository{
		Repository: NewRepository(db, logger),
		projects:   database.NewStruct(new(models.Project), db.Flavor()),
	}
}

// Create inserts a project. Names are unique.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.Create")
	defer span.End()

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now().UTC()
	project.CreatedAt, project.UpdatedAt = now, now

	query, args := r.projects.InsertInto(projectsTable, project).Build()
	if _, err := r.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflictf("project %q already exists", project.Name)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_name": project.Name,
		}).Error("failed to create project")
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
	}).Debugf("Created %s", projectsTable)
	return nil
}

func (r *ProjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetByID")
	defer span.End()

	sb := r.projects.SelectFrom(projectsTable)
	sb.Where(sb.Equal("id", id))
	return r.getOne(ctx, sb.Build, "project %s does not exist", id)
}

func (r *ProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.GetByName")
	defer span.End()

	sb := r.projects.SelectFrom(projectsTable)
	sb.Where(sb.Equal("name", name))
	return r.getOne(ctx, sb.Build, "project '%s' does not exist", name)
}

func (r *ProjectRepository) getOne(ctx context.Context, build func() (string, []any), notFound string, key any) (*models.Project, error) {
	query, args := build()
	var project models.Project
	err := r.conn(ctx).GetContext(ctx, &project, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf(notFound, key)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to get project")
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.List")
	defer span.End()

	sb := r.projects.SelectFrom(projectsTable)
	sb.OrderBy("name")

	query, args := sb.Build()
	projects := []models.Project{}
	if err := r.conn(ctx).SelectContext(ctx, &projects, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list projects")
		return nil, err
	}
	return projects, nil
}

// UpdateConfig replaces the configuration of a project.
func (r *ProjectRepository) UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ProjectConfig) error {
	ctx, span := tracing.StartSpan(ctx, "ProjectRepository.UpdateConfig")
	defer span.End()

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(projectsTable).
		Set(ub.Assign("config", database.NewJSONB(cfg)), ub.Assign("updated_at", time.Now().UTC())).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := r.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"project_id": id,
		}).Error("failed to update project config")
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("project %s does not exist", id)
	}
	return nil
}
