package snapshot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/snapshot/snapshottest"
)

func TestRoundTripRehash(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()

	snap := env.Capture(t,
		snapshottest.Company("10", "Acme"),
		snapshottest.Contact("1", "Alice", models.Link{ToType: "companies", ToID: "10"}),
		models.Entity{Type: "contacts", ID: "2", Properties: map[string]any{"name": "Bob", "age": 41, "vip": true, "phone": nil}},
	)

	entities, failures, err := env.Reader.Entities(ctx, snap.ID, "contacts")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, entities, 2)

	h := hashing.New()
	for _, e := range entities {
		assert.Equal(t, e.ContentHash, h.Hash(e.Properties, e.Links), "recomputed hash of %s/%s", e.ObjectType, e.ObjectID)
	}
	assert.Equal(t, []string{"companies:10"}, entities[0].Links)
	assert.Equal(t, "41", entities[1].Properties["age"])
}

func TestFinalize(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()

	snap := env.Capture(t,
		snapshottest.Company("10", "Acme"),
		snapshottest.Contact("1", "Alice", models.Link{ToType: "companies", ToID: "10"}),
		snapshottest.Contact("2", "Bob"),
	)

	assert.Equal(t, models.SnapshotCompleted, snap.Status)
	assert.Equal(t, map[string]int{"companies": 1, "contacts": 2}, snap.DetectedEntities.Data)
	assert.Equal(t, 3, snap.TotalObjects)
	require.NotNil(t, snap.CompletedAt)

	hashes, err := repositories.NewSnapshotItemRepository(env.DB, env.Logger).Hashes(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.RootHash)
	assert.Equal(t, hashing.MerkleRoot(hashes), *snap.RootHash)

	order, err := env.Graph.RestorationOrder(ctx, env.Project.ID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{"companies", "contacts"}, order)
}

func TestEmptySnapshot(t *testing.T) {
	env := snapshottest.New(t)
	snap := env.Capture(t)
	require.NotNil(t, snap.RootHash)
	assert.Equal(t, hashing.EmptyRoot, *snap.RootHash)
	assert.Equal(t, 0, snap.TotalObjects)
}

func TestIngestRaw(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()

	session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID, SourceType: "hubspot"})
	require.NoError(t, err)
	require.NoError(t, session.Ingest(ctx, "contacts", "1", map[string]any{
		"id":         "1",
		"properties": map[string]any{"email": "alice@acme.io", "lastmodifieddate": "2024-01-01"},
	}, map[string]any{"companies": []any{"10"}}))

	snap, err := session.Finalize(ctx)
	require.NoError(t, err)

	entities, _, err := env.Reader.Entities(ctx, snap.ID, "contacts")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, map[string]any{"email": "alice@acme.io"}, entities[0].Properties)
	assert.Equal(t, []string{"companies:10"}, entities[0].Links)
}

func TestDuplicateItemIsCountedConflict(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()

	session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
	require.NoError(t, err)
	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice")))

	err = session.IngestEntity(ctx, snapshottest.Contact("1", "Alicia"))
	var entityErr *snapshot.EntityError
	require.True(t, errors.As(err, &entityErr))
	assert.True(t, apperrors.IsConflict(err))

	snap, err := session.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalObjects)

	stats := session.Stats()
	assert.Equal(t, 1, stats.Ingested)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "1", stats.Failures[0].ObjectID)
}

func TestBlobDeduplication(t *testing.T) {
	env := snapshottest.New(t)

	env.Capture(t, snapshottest.Contact("1", "Alice"), snapshottest.Contact("2", "Alice"))
	assert.EqualValues(t, 1, env.Blobs.Writes(), "identical content is stored once")

	env.Capture(t, snapshottest.Contact("1", "Alice"))
	assert.EqualValues(t, 1, env.Blobs.Writes())
}

func TestFlushAtThreshold(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	engine := snapshot.NewEngine(env.DB, env.Blobs, env.Graph, env.Logger, snapshot.WithFlushSize(2))
	items := repositories.NewSnapshotItemRepository(env.DB, env.Logger)

	session, err := engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
	require.NoError(t, err)

	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "A")))
	stored, err := items.ListBySnapshot(ctx, session.ID(), "")
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("2", "B")))
	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("3", "C")))
	stored, err = items.ListBySnapshot(ctx, session.ID(), "")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.NoError(t, session.Flush(ctx))
	stored, err = items.ListBySnapshot(ctx, session.ID(), "")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestFailAndFinalizeOnce(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	snapshots := repositories.NewSnapshotRepository(env.DB, env.Logger)

	t.Run("failed snapshots have no root", func(t *testing.T) {
		session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
		require.NoError(t, err)
		require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice")))

		session.Fail(ctx, errors.New("source went away"))

		snap, err := snapshots.GetByID(ctx, session.ID())
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotFailed, snap.Status)
		assert.Nil(t, snap.RootHash)
		require.NotNil(t, snap.Error)
		assert.Equal(t, "source went away", *snap.Error)

		_, err = session.Finalize(ctx)
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("finalize is single shot", func(t *testing.T) {
		session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
		require.NoError(t, err)
		_, err = session.Finalize(ctx)
		require.NoError(t, err)

		_, err = session.Finalize(ctx)
		assert.True(t, apperrors.IsConflict(err))
		assert.True(t, apperrors.IsConflict(session.IngestEntity(ctx, snapshottest.Contact("9", "Late"))))

		session.Fail(ctx, errors.New("ignored"))
		snap, err := snapshots.GetByID(ctx, session.ID())
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotCompleted, snap.Status)
	})

	t.Run("cancelled ingestion", func(t *testing.T) {
		session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
		require.NoError(t, err)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, session.IngestEntity(cancelled, snapshottest.Contact("1", "A")), context.Canceled)
	})
}

func TestMissingBlobIsSkipped(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()

	snap := env.Capture(t, snapshottest.Contact("1", "Alice"), snapshottest.Contact("2", "Bob"))

	items, err := repositories.NewSnapshotItemRepository(env.DB, env.Logger).ListBySnapshot(ctx, snap.ID, "contacts")
	require.NoError(t, err)
	env.Blobs.Delete(blob.Key(items[0].ContentHash))

	entities, failures, err := env.Reader.Entities(ctx, snap.ID, "contacts")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Len(t, failures, 1)
	assert.Equal(t, "1", failures[0].ObjectID)
}

func countRows(t *testing.T, env *snapshottest.Env, table string) int {
	t.Helper()
	var n int
	require.NoError(t, env.DB.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestFlushFailureRollsBackBatch(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	engine := snapshot.NewEngine(env.DB, env.Blobs, env.Graph, env.Logger, snapshot.WithFlushSize(2))

	_, err := env.DB.ExecContext(ctx, `CREATE TRIGGER reject_item BEFORE INSERT ON snapshot_items
		WHEN NEW.object_id = '2' BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	session, err := engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
	require.NoError(t, err)
	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice")))

	err = session.IngestEntity(ctx, snapshottest.Contact("2", "Bob"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	var entityErr *snapshot.EntityError
	assert.False(t, errors.As(err, &entityErr), "a failed flush is fatal, not an entity failure")

	assert.Zero(t, countRows(t, env, "snapshot_items"), "no item of the batch survives")
	assert.Zero(t, countRows(t, env, "blobs"), "blob registrations roll back with the items")

	_, err = env.DB.ExecContext(ctx, `DROP TRIGGER reject_item`)
	require.NoError(t, err)

	// the batch is kept and written by the next flush
	require.NoError(t, session.Flush(ctx))
	assert.Equal(t, 2, countRows(t, env, "snapshot_items"))

	snap, err := session.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalObjects)
}

func TestFinalizeFailsOnFlushError(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	snapshots := repositories.NewSnapshotRepository(env.DB, env.Logger)

	_, err := env.DB.ExecContext(ctx, `CREATE TRIGGER reject_item BEFORE INSERT ON snapshot_items
		WHEN NEW.object_id = '2' BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
	require.NoError(t, err)
	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice")))
	require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("2", "Bob")))

	_, err = session.Finalize(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	snap, err := snapshots.GetByID(ctx, session.ID())
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotFailed, snap.Status)
	assert.Nil(t, snap.RootHash)
	assert.Zero(t, countRows(t, env, "snapshot_items"))

	order, err := env.Graph.RestorationOrder(ctx, env.Project.ID.String())
	require.NoError(t, err)
	assert.Empty(t, order, "a failed snapshot never reaches the graph")
}

type unavailableGraph struct {
	graph.Store
}

func (unavailableGraph) Clear(context.Context, string) error {
	return errors.New("graph unavailable")
}

func TestGraphFollowsCommittedSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("refused completion leaves the graph alone", func(t *testing.T) {
		env := snapshottest.New(t)
		snapshots := repositories.NewSnapshotRepository(env.DB, env.Logger)

		_, err := env.DB.ExecContext(ctx, `CREATE TRIGGER reject_complete BEFORE UPDATE OF status ON snapshots
			WHEN NEW.status = 'completed' BEGIN SELECT RAISE(ABORT, 'commit refused'); END`)
		require.NoError(t, err)

		session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
		require.NoError(t, err)
		require.NoError(t, session.IngestEntity(ctx, snapshottest.Company("10", "Acme")))
		require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice", models.Link{ToType: "companies", ToID: "10"})))

		_, err = session.Finalize(ctx)
		require.Error(t, err)

		order, err := env.Graph.RestorationOrder(ctx, env.Project.ID.String())
		require.NoError(t, err)
		assert.Empty(t, order)

		snap, err := snapshots.GetByID(ctx, session.ID())
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotFailed, snap.Status)
		assert.Nil(t, snap.RootHash)
	})

	t.Run("graph failure withdraws the snapshot", func(t *testing.T) {
		env := snapshottest.New(t)
		snapshots := repositories.NewSnapshotRepository(env.DB, env.Logger)
		graphs := graph.NewService(unavailableGraph{graph.NewMemory()}, nil, env.Logger)
		engine := snapshot.NewEngine(env.DB, env.Blobs, graphs, env.Logger)

		session, err := engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
		require.NoError(t, err)
		require.NoError(t, session.IngestEntity(ctx, snapshottest.Contact("1", "Alice")))

		_, err = session.Finalize(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "graph unavailable")

		snap, err := snapshots.GetByID(ctx, session.ID())
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotFailed, snap.Status)
		assert.Nil(t, snap.RootHash)
		require.NotNil(t, snap.Error)

		_, err = snapshots.LatestCompleted(ctx, env.Project.ID)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
