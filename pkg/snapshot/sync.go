package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/events"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const (
	DefaultWorkers = 4
	syncLockTTL    = 30 * time.Minute
)

// Merger folds a completed snapshot into the staging cache.
type Merger interface {
	Merge(ctx context.Context, projectID, snapshotID uuid.UUID, cfg models.ProjectConfig) (int, error)
}

// Syncer runs a full sync: extract every type from a connector, snapshot
// it, move the branch and announce the result.
type Syncer struct {
	engine    *Engine
	projects  *repositories.ProjectRepository
	branches  *repositories.BranchRepository
	merger    Merger
	publisher events.Publisher
	locker    graph.Locker
	logger    ectologger.Logger
	workers   int
}

// SyncerConfig wires the optional collaborators. Nil Merger skips staging,
// nil Publisher drops events and nil Locker only serializes in-process.
type SyncerConfig struct {
	Merger    Merger
	Publisher events.Publisher
	Locker    graph.Locker
	Workers   int
}

func NewSyncer(db database.DB, engine *Engine, cfg SyncerConfig, logger ectologger.Logger) *Syncer {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	return &Syncer{
		engine:    engine,
		projects:  repositories.NewProjectRepository(db, logger),
		branches:  repositories.NewBranchRepository(db, logger),
		merger:    cfg.Merger,
		publisher: cfg.Publisher,
		locker:    cfg.Locker,
		logger:    logger,
		workers:   cfg.Workers,
	}
}

type SyncRequest struct {
	ProjectID   uuid.UUID
	Branch      string
	SourceName  string
	Connector   connectors.Connector
	ObjectTypes []string
}

type SyncResult struct {
	Snapshot *models.Snapshot `json:"snapshot"`
	Stats    Stats            `json:"stats"`
	Merged   int              `json:"merged"`
}

// Run executes the sync. Extraction errors and metadata failures fail the
// snapshot; per-entity problems are only counted in the stats.
func (s *Syncer) Run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Syncer.Run")
	defer span.End()

	if req.Connector == nil {
		return nil, apperrors.Invalidf("sync needs a connector")
	}
	if req.Branch == "" {
		req.Branch = models.DefaultBranch
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "zibridge:sync:"+req.ProjectID.String(), syncLockTTL)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConflict, err, "project %s is already syncing", req.ProjectID)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("failed to release sync lock")
			}
		}()
	}

	project, err := s.projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	cfg := project.Config.Data

	conn := req.Connector
	if !conn.TestConnection(ctx) {
		return nil, apperrors.NewConnectorFailure(0, nil, "%s source is unreachable", conn.SourceType())
	}

	types := req.ObjectTypes
	if len(types) == 0 {
		if types, err = conn.AvailableObjectTypes(ctx); err != nil {
			return nil, fmt.Errorf("failed to list object types: %w", err)
		}
	}

	branch, err := s.branches.GetOrCreate(ctx, project.ID, req.Branch)
	if err != nil {
		return nil, err
	}

	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = cfg.SourceName
	}
	session, err := s.engine.Begin(ctx, Request{
		ProjectID:  project.ID,
		BranchID:   &branch.ID,
		SourceName: sourceName,
		SourceType: conn.SourceType(),
		Config:     cfg,
		SyncConfig: map[string]any{"object_types": types, "branch": branch.Name},
	})
	if err != nil {
		return nil, err
	}

	if err := s.extract(ctx, session, conn, types); err != nil {
		session.Fail(ctx, err)
		s.publish(ctx, events.SnapshotFailed, project.ID, session, err)
		return nil, err
	}

	snap, err := session.Finalize(ctx)
	if err != nil {
		s.publish(ctx, events.SnapshotFailed, project.ID, session, err)
		return nil, err
	}

	if err := s.branches.SetCurrentSnapshot(ctx, branch.ID, snap.ID); err != nil {
		return nil, fmt.Errorf("failed to advance branch %s: %w", branch.Name, err)
	}

	result := &SyncResult{Snapshot: snap, Stats: session.Stats()}
	if s.merger != nil {
		merged, err := s.merger.Merge(ctx, project.ID, snap.ID, cfg)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Staging merge failed, cache is stale until the next sync")
		}
		result.Merged = merged
	}

	s.publish(ctx, events.SnapshotCompleted, project.ID, session, nil)
	return result, nil
}

// extract streams every type into the session, at most s.workers at a time.
func (s *Syncer) extract(ctx context.Context, session *Session, conn connectors.Connector, types []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, objectType := range types {
		g.Go(func() error {
			entities, errs := conn.ExtractEntities(gctx, objectType)
			for e := range entities {
				if e.Type == "" {
					e.Type = objectType
				}
				err := session.IngestEntity(gctx, e)
				var entityErr *EntityError
				if err != nil && !errors.As(err, &entityErr) {
					// drain so the producer can exit
					for range entities {
					}
					return err
				}
			}
			if err := <-errs; err != nil {
				return fmt.Errorf("failed to extract %s: %w", objectType, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Syncer) publish(ctx context.Context, eventType string, projectID uuid.UUID, session *Session, cause error) {
	stats := session.Stats()
	evt := &events.Event{
		Type:       eventType,
		ProjectID:  projectID.String(),
		SnapshotID: session.ID().String(),
		Counts:     stats.Counts,
		Timestamp:  time.Now().UTC(),
	}
	if cause != nil {
		evt.Status = string(models.SnapshotFailed)
		evt.Error = cause.Error()
	} else {
		evt.Status = string(models.SnapshotCompleted)
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warnf("failed to publish %s", eventType)
	}
}
