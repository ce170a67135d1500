// Package snapshottest wires an in-memory stack for tests that need real
// snapshots.
package snapshottest

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/database/databasetest"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
)

type Env struct {
	DB      database.DB
	Logger  ectologger.Logger
	Blobs   *blob.Memory
	Graph   *graph.Service
	Engine  *snapshot.Engine
	Reader  *snapshot.Reader
	Project *models.Project
}

// New migrates a fresh SQLite database and creates one project.
func New(t testing.TB) *Env {
	t.Helper()
	db := databasetest.New(t)
	logger := databasetest.Logger()
	blobs := blob.NewMemory()
	graphs := graph.NewService(graph.NewMemory(), nil, logger)

	project := &models.Project{Name: "crm", Config: database.NewJSONB(models.ProjectConfig{SourceType: "memory"})}
	require.NoError(t, repositories.NewProjectRepository(db, logger).Create(context.Background(), project))

	return &Env{
		DB:      db,
		Logger:  logger,
		Blobs:   blobs,
		Graph:   graphs,
		Engine:  snapshot.NewEngine(db, blobs, graphs, logger),
		Reader:  snapshot.NewReader(db, blobs, logger),
		Project: project,
	}
}

// Capture snapshots entities in one completed session.
func (e *Env) Capture(t testing.TB, entities ...models.Entity) *models.Snapshot {
	t.Helper()
	ctx := context.Background()

	session, err := e.Engine.Begin(ctx, snapshot.Request{ProjectID: e.Project.ID, SourceType: "memory", Config: e.Project.Config.Data})
	require.NoError(t, err)
	for _, ent := range entities {
		require.NoError(t, session.IngestEntity(ctx, ent))
	}
	snap, err := session.Finalize(ctx)
	require.NoError(t, err)
	return snap
}

// Contact is shorthand for a contacts entity with a name and optional links.
func Contact(id, name string, links ...models.Link) models.Entity {
	return models.Entity{Type: "contacts", ID: id, Properties: map[string]any{"name": name}, Links: links}
}

// Company is shorthand for a companies entity with a name.
func Company(id, name string) models.Entity {
	return models.Entity{Type: "companies", ID: id, Properties: map[string]any{"name": name}}
}
