package snapshot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/connectors/memory"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/events"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/snapshot/snapshottest"
	"github.com/Bafix001/zibridge/pkg/staging"
)

func seededSource() *memory.Connector {
	src := memory.New()
	src.Put(snapshottest.Company("10", "Acme"))
	src.Put(models.Entity{Type: "contacts", ID: "1", Properties: map[string]any{"name": "Alice", "email": "alice@acme.io"},
		Links: []models.Link{{ToType: "companies", ToID: "10"}}})
	src.Put(models.Entity{Type: "contacts", ID: "2", Properties: map[string]any{"name": "Bob", "email": "bob@acme.io"}})
	return src
}

type brokenSource struct {
	*memory.Connector
	failType string
}

func (b *brokenSource) ExtractEntities(ctx context.Context, objectType string) (<-chan models.Entity, <-chan error) {
	if objectType != b.failType {
		return b.Connector.ExtractEntities(ctx, objectType)
	}
	return connectors.Stream(ctx, func(emit func(models.Entity) bool) error {
		emit(models.Entity{Type: objectType, ID: "x", Properties: map[string]any{"name": "partial"}})
		return apperrors.NewConnectorFailure(500, nil, "source exploded")
	})
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, errors.New("lock held")
}

func TestSyncerRun(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	recorder := &events.Recorder{}

	syncer := snapshot.NewSyncer(env.DB, env.Engine, snapshot.SyncerConfig{
		Merger:    staging.NewMerger(env.DB, env.Blobs, env.Logger),
		Publisher: recorder,
		Workers:   2,
	}, env.Logger)

	result, err := syncer.Run(ctx, snapshot.SyncRequest{ProjectID: env.Project.ID, Connector: seededSource()})
	require.NoError(t, err)

	assert.Equal(t, models.SnapshotCompleted, result.Snapshot.Status)
	assert.Equal(t, map[string]int{"companies": 1, "contacts": 2}, result.Snapshot.DetectedEntities.Data)
	assert.Equal(t, connectors.SourceMemory, result.Snapshot.SourceType)
	assert.Equal(t, 3, result.Stats.Ingested)
	assert.Equal(t, 3, result.Merged)

	branch, err := repositories.NewBranchRepository(env.DB, env.Logger).GetByName(ctx, env.Project.ID, models.DefaultBranch)
	require.NoError(t, err)
	require.NotNil(t, branch.CurrentSnapshotID)
	assert.Equal(t, result.Snapshot.ID, *branch.CurrentSnapshotID)

	staged, err := repositories.NewNormalizedRepository(env.DB, env.Logger).Get(ctx, env.Project.ID, "contacts", "alice@acme.io")
	require.NoError(t, err)
	assert.Equal(t, "Alice", staged.Data.Data["name"])

	require.Equal(t, []string{events.SnapshotCompleted}, recorder.Types())
	evt := recorder.Events()[0]
	assert.Equal(t, result.Snapshot.ID.String(), evt.SnapshotID)
	assert.Equal(t, 2, evt.Counts["contacts"])

	order, err := env.Graph.RestorationOrder(ctx, env.Project.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{"companies", "contacts"}, order)
}

func TestSyncerRestrictsTypes(t *testing.T) {
	env := snapshottest.New(t)
	syncer := snapshot.NewSyncer(env.DB, env.Engine, snapshot.SyncerConfig{}, env.Logger)

	result, err := syncer.Run(context.Background(), snapshot.SyncRequest{
		ProjectID:   env.Project.ID,
		Branch:      "staging",
		Connector:   seededSource(),
		ObjectTypes: []string{"companies"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Snapshot.TotalObjects)
	assert.Zero(t, result.Merged)
}

func TestSyncerExtractionFailure(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	recorder := &events.Recorder{}
	syncer := snapshot.NewSyncer(env.DB, env.Engine, snapshot.SyncerConfig{Publisher: recorder}, env.Logger)

	_, err := syncer.Run(ctx, snapshot.SyncRequest{
		ProjectID: env.Project.ID,
		Connector: &brokenSource{Connector: seededSource(), failType: "contacts"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	require.Equal(t, []string{events.SnapshotFailed}, recorder.Types())
	evt := recorder.Events()[0]
	assert.Contains(t, evt.Error, "source exploded")

	snapshotID, err := uuid.Parse(evt.SnapshotID)
	require.NoError(t, err)
	snap, err := repositories.NewSnapshotRepository(env.DB, env.Logger).GetByID(ctx, snapshotID)
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotFailed, snap.Status)
	assert.Nil(t, snap.RootHash)

	branch, err := repositories.NewBranchRepository(env.DB, env.Logger).GetByName(ctx, env.Project.ID, models.DefaultBranch)
	require.NoError(t, err)
	assert.Nil(t, branch.CurrentSnapshotID, "a failed sync never moves the branch")
}

func TestSyncerLocked(t *testing.T) {
	env := snapshottest.New(t)
	syncer := snapshot.NewSyncer(env.DB, env.Engine, snapshot.SyncerConfig{Locker: busyLocker{}}, env.Logger)

	_, err := syncer.Run(context.Background(), snapshot.SyncRequest{ProjectID: env.Project.ID, Connector: seededSource()})
	assert.True(t, apperrors.IsConflict(err))
}
