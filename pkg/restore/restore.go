// Package restore replays a snapshot onto a live system. A run plans the
// difference between the snapshot and what the connector currently returns,
// then creates missing entities, pushes changed fields and re-links
// relationships, translating identifiers the live system reassigned.
package restore

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/events"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/snapshot"
)

type Phase string

const (
	PhasePlanning Phase = "planning"
	PhaseCreating Phase = "creating"
	PhaseUpdating Phase = "updating"
	PhaseSuturing Phase = "suturing"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

const (
	DefaultWorkers = 4

	// defaultAssociationBatch applies when the connector has no batch limit.
	defaultAssociationBatch = 100

	updateWarningThreshold = 50
	createWarningThreshold = 100
)

// Engine restores snapshots of one project onto the system behind conn.
type Engine struct {
	db        database.DB
	conn      connectors.Connector
	reader    *snapshot.Reader
	graph     *graph.Service
	projects  *repositories.ProjectRepository
	branches  *repositories.BranchRepository
	mappings  *repositories.IdMappingRepository
	publisher events.Publisher
	logger    ectologger.Logger
	workers   int
}

type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithWorkers bounds how many types of one dependency level run at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine builds a restore engine. graphs may be nil, in which case every
// type of the snapshot forms a single level.
func NewEngine(db database.DB, blobs blob.Store, graphs *graph.Service, conn connectors.Connector, logger ectologger.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		conn:      conn,
		reader:    snapshot.NewReader(db, blobs, logger),
		graph:     graphs,
		projects:  repositories.NewProjectRepository(db, logger),
		branches:  repositories.NewBranchRepository(db, logger),
		mappings:  repositories.NewIdMappingRepository(db, logger),
		publisher: events.Noop{},
		logger:    logger,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run plans and executes a restore in one call.
func (e *Engine) Run(ctx context.Context, projectID, snapshotID uuid.UUID, dryRun bool) (*Result, error) {
	plan, err := e.Plan(ctx, projectID, snapshotID)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan, dryRun)
}

// translations maps "type/id" to the live identifier. Unknown ids translate
// to themselves.
type translations struct {
	mu  sync.RWMutex
	ids map[string]string
}

func newTranslations(seed map[string]string) *translations {
	ids := make(map[string]string, len(seed))
	for k, v := range seed {
		ids[k] = v
	}
	return &translations{ids: ids}
}

func (t *translations) get(objectType, id string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if live, ok := t.ids[objectType+"/"+id]; ok {
		return live
	}
	return id
}

func (t *translations) set(objectType, id, live string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[objectType+"/"+id] = live
}
