// Package app wires the stores and engines of one zibridge process. The HTTP
// server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/config"
	"github.com/Bafix001/zibridge/db"
	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/connectors/memory"
	"github.com/Bafix001/zibridge/pkg/connectors/sources"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/diff"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/events"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/kafka"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/redis"
	"github.com/Bafix001/zibridge/pkg/restore"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/staging"
	"github.com/Bafix001/zibridge/pkg/startup"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const graphMemory = "memory"

// ConnectorFactory returns the live-system connector of a project.
type ConnectorFactory func(ctx context.Context, project *models.Project) (connectors.Connector, error)

// App holds the started dependencies and the engines built on them.
type App struct {
	Config *config.Config
	Logger ectologger.Logger

	DB        database.DB
	Blobs     blob.Store
	Graph     *graph.Service
	Redis     *redis.Client
	Locker    graph.Locker
	Publisher events.Publisher

	// Connectors defaults to building one from the project's source type.
	Connectors ConnectorFactory

	Projects  *repositories.ProjectRepository
	Branches  *repositories.BranchRepository
	Snapshots *repositories.SnapshotRepository
	Items     *repositories.SnapshotItemRepository
	Mappings  *repositories.IdMappingRepository

	Engine *snapshot.Engine
	Reader *snapshot.Reader
	Syncer *snapshot.Syncer
	Diff   *diff.Engine

	startup    *startup.Startup
	graphStore *graph.Client
	producer   *kafka.Producer

	mu     sync.Mutex
	memory map[uuid.UUID]*memory.Connector
}

func New(cfg *config.Config, logger ectologger.Logger) *App {
	return &App{Config: cfg, Logger: logger, memory: map[uuid.UUID]*memory.Connector{}}
}

// Start connects every configured dependency and wires the engines.
func (a *App) Start(ctx context.Context) error {
	a.startup = startup.NewStartup(a.Logger, a.Config.StartupMaxAttempts)
	for _, dep := range a.dependencies() {
		a.startup.AddDependency(dep)
	}
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.Wire()
	return nil
}

// Stop releases the dependencies in reverse start order.
func (a *App) Stop(ctx context.Context) error {
	if a.startup == nil {
		return nil
	}
	return a.startup.Stop(ctx)
}

// Wire builds repositories and engines from DB, Blobs, Graph, Locker and
// Publisher. Tests set those fields directly and call Wire.
func (a *App) Wire() {
	if a.memory == nil {
		a.memory = map[uuid.UUID]*memory.Connector{}
	}
	if a.Publisher == nil {
		a.Publisher = events.Noop{}
	}
	if a.Graph == nil {
		a.Graph = graph.NewService(graph.NewMemory(), a.Locker, a.Logger)
	}
	if a.Connectors == nil {
		a.Connectors = a.connectorFor
	}

	var opts []snapshot.Option
	if a.Config != nil && a.Config.FlushSize > 0 {
		opts = append(opts, snapshot.WithFlushSize(a.Config.FlushSize))
	}

	a.Projects = repositories.NewProjectRepository(a.DB, a.Logger)
	a.Branches = repositories.NewBranchRepository(a.DB, a.Logger)
	a.Snapshots = repositories.NewSnapshotRepository(a.DB, a.Logger)
	a.Items = repositories.NewSnapshotItemRepository(a.DB, a.Logger)
	a.Mappings = repositories.NewIdMappingRepository(a.DB, a.Logger)
	a.Engine = snapshot.NewEngine(a.DB, a.Blobs, a.Graph, a.Logger, opts...)
	a.Reader = snapshot.NewReader(a.DB, a.Blobs, a.Logger)
	a.Syncer = snapshot.NewSyncer(a.DB, a.Engine, snapshot.SyncerConfig{
		Merger:    staging.NewMerger(a.DB, a.Blobs, a.Logger),
		Publisher: a.Publisher,
		Locker:    a.Locker,
		Workers:   a.workers(func(c *config.Config) int { return c.SyncWorkers }),
	}, a.Logger)
	a.Diff = diff.NewEngine(a.DB, a.Blobs, a.Logger)
}

// Migrate brings the metadata schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	cfg := a.Config
	svc := database.NewMigrationService(a.Logger, &database.MigrationConfig{
		FolderPath:   cfg.DatabaseMigrationFolderPath,
		Embedded:     db.Migrations,
		Version:      uint(cfg.DatabaseMigrationVersion),
		Force:        cfg.DatabaseMigrationForce,
		AutoRollback: cfg.DatabaseMigrationAutoRollback,
	})
	if err := svc.Migrate(a.DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.Logger.WithContext(ctx).Info("Database migrated")
	return nil
}

// CreateProject creates a project together with its main branch.
func (a *App) CreateProject(ctx context.Context, name string, cfg models.ProjectConfig) (_ *models.Project, err error) {
	ctx, span := tracing.StartSpan(ctx, "app.App.CreateProject")
	defer span.End()

	ctx, tx, err := a.DB.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	project := &models.Project{Name: strings.TrimSpace(name), Config: database.NewJSONB(cfg)}
	if err = a.Projects.Create(ctx, project); err != nil {
		return nil, err
	}
	if _, err = a.Branches.GetOrCreate(ctx, project.ID, models.DefaultBranch); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	a.Logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":  project.ID,
		"source_type": cfg.SourceType,
	}).Infof("Created project %q", project.Name)
	return project, nil
}

// ResolveProject accepts a project id or name.
func (a *App) ResolveProject(ctx context.Context, ref string) (*models.Project, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return a.Projects.GetByID(ctx, id)
	}
	return a.Projects.GetByName(ctx, ref)
}

// Sync snapshots the project's source onto branch.
func (a *App) Sync(ctx context.Context, projectID uuid.UUID, branch string, objectTypes []string) (*snapshot.SyncResult, error) {
	project, err := a.Projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	conn, err := a.Connectors(ctx, project)
	if err != nil {
		return nil, err
	}
	return a.Syncer.Run(ctx, snapshot.SyncRequest{
		ProjectID:   project.ID,
		Branch:      branch,
		SourceName:  project.Config.Data.SourceName,
		Connector:   conn,
		ObjectTypes: objectTypes,
	})
}

// Restorer returns a restore engine aimed at the project's live system.
func (a *App) Restorer(ctx context.Context, projectID uuid.UUID) (*restore.Engine, error) {
	project, err := a.Projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	conn, err := a.Connectors(ctx, project)
	if err != nil {
		return nil, err
	}
	return restore.NewEngine(a.DB, a.Blobs, a.Graph, conn, a.Logger,
		restore.WithPublisher(a.Publisher),
		restore.WithWorkers(a.workers(func(c *config.Config) int { return c.RestoreWorkers })),
	), nil
}

// connectorFor builds the connector of a project's source type. Memory
// sources without a seed file live as long as the process, one per project.
func (a *App) connectorFor(_ context.Context, project *models.Project) (connectors.Connector, error) {
	pc := project.Config.Data
	if pc.SourceType == "" {
		return nil, apperrors.Invalidf("project %s has no source type", project.Name)
	}

	cfg := sources.Config{Type: pc.SourceType}
	if a.Config != nil {
		cfg.Token = a.Config.HubSpotToken
		cfg.BaseURL = a.Config.HubSpotBaseURL
		cfg.Path = a.Config.SourcePath
	}

	if strings.EqualFold(pc.SourceType, connectors.SourceMemory) && cfg.Path == "" {
		a.mu.Lock()
		defer a.mu.Unlock()
		conn, ok := a.memory[project.ID]
		if !ok {
			conn = memory.New()
			a.memory[project.ID] = conn
		}
		return conn, nil
	}
	return sources.New(cfg, a.Logger)
}

func (a *App) workers(pick func(*config.Config) int) int {
	if a.Config == nil {
		return 0
	}
	return pick(a.Config)
}
