package repositories_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/database"
	"github.com/Bafix001/zibridge/pkg/database/databasetest"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/models"
)

type stores struct {
	db        database.DB
	projects  *repositories.ProjectRepository
	branches  *repositories.BranchRepository
	snapshots *repositories.SnapshotRepository
	items     *repositories.SnapshotItemRepository
	blobs     *repositories.BlobRefRepository
	mappings  *repositories.IdMappingRepository
	records   *repositories.NormalizedRepository
}

func newStores(t *testing.T) stores {
	t.Helper()
	db := databasetest.New(t)
	logger := databasetest.Logger()
	return stores{
		db:        db,
		projects:  repositories.NewProjectRepository(db, logger),
		branches:  repositories.NewBranchRepository(db, logger),
		snapshots: repositories.NewSnapshotRepository(db, logger),
		items:     repositories.NewSnapshotItemRepository(db, logger),
		blobs:     repositories.NewBlobRefRepository(db, logger),
		mappings:  repositories.NewIdMappingRepository(db, logger),
		records:   repositories.NewNormalizedRepository(db, logger),
	}
}

func (s stores) project(t *testing.T, name string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name, Config: database.NewJSONB(models.ProjectConfig{SourceType: "memory"})}
	require.NoError(t, s.projects.Create(context.Background(), p))
	return p
}

func (s stores) snapshot(t *testing.T, projectID uuid.UUID) *models.Snapshot {
	t.Helper()
	snap := &models.Snapshot{ProjectID: projectID, SourceType: "memory"}
	require.NoError(t, s.snapshots.Create(context.Background(), snap))
	return snap
}

func TestProjectRepository(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	p := s.project(t, "crm")
	assert.NotEqual(t, uuid.Nil, p.ID)

	t.Run("get by id and name", func(t *testing.T) {
		got, err := s.projects.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "crm", got.Name)
		assert.Equal(t, "memory", got.Config.Data.SourceType)

		got, err = s.projects.GetByName(ctx, "crm")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		err := s.projects.Create(ctx, &models.Project{Name: "crm"})
		assert.True(t, apperrors.IsConflict(err))
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := s.projects.GetByID(ctx, uuid.New())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("update config", func(t *testing.T) {
		cfg := models.ProjectConfig{
			SourceType:    "csv",
			IgnoredFields: []string{"hs_sync"},
			Mappings:      map[string]models.ObjectMapping{"companies": {UniqueID: "domain"}},
		}
		require.NoError(t, s.projects.UpdateConfig(ctx, p.ID, cfg))

		got, err := s.projects.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "domain", got.Config.Data.UniqueKey("companies"))
		assert.Equal(t, models.DefaultUniqueKey, got.Config.Data.UniqueKey("contacts"))
	})

	t.Run("list", func(t *testing.T) {
		s.project(t, "analytics")
		projects, err := s.projects.List(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 2)
		assert.Equal(t, "analytics", projects[0].Name)
	})
}

func TestBranchRepository(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	p := s.project(t, "crm")

	main, err := s.branches.GetOrCreate(ctx, p.ID, models.DefaultBranch)
	require.NoError(t, err)
	again, err := s.branches.GetOrCreate(ctx, p.ID, models.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, main.ID, again.ID)
	assert.Nil(t, main.CurrentSnapshotID)

	snap := s.snapshot(t, p.ID)
	require.NoError(t, s.branches.SetCurrentSnapshot(ctx, main.ID, snap.ID))

	got, err := s.branches.GetByID(ctx, main.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentSnapshotID)
	assert.Equal(t, snap.ID, *got.CurrentSnapshotID)

	assert.True(t, apperrors.IsNotFound(s.branches.SetCurrentSnapshot(ctx, uuid.New(), snap.ID)))

	branches, err := s.branches.List(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 1)
}

func TestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	p := s.project(t, "crm")

	t.Run("complete once", func(t *testing.T) {
		snap := s.snapshot(t, p.ID)
		assert.Equal(t, models.SnapshotRunning, snap.Status)

		require.NoError(t, s.snapshots.Complete(ctx, snap.ID, "root", map[string]int{"contacts": 2, "companies": 1}))

		got, err := s.snapshots.GetByID(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotCompleted, got.Status)
		require.NotNil(t, got.RootHash)
		assert.Equal(t, "root", *got.RootHash)
		assert.Equal(t, 3, got.TotalObjects)
		assert.Equal(t, 2, got.DetectedEntities.Data["contacts"])
		assert.NotNil(t, got.CompletedAt)

		err = s.snapshots.Complete(ctx, snap.ID, "other", nil)
		assert.True(t, apperrors.IsConflict(err))
		assert.True(t, apperrors.IsConflict(s.snapshots.Fail(ctx, snap.ID, "late")))
	})

	t.Run("failed snapshots carry no root", func(t *testing.T) {
		snap := s.snapshot(t, p.ID)
		require.NoError(t, s.snapshots.Fail(ctx, snap.ID, "connector down"))

		got, err := s.snapshots.GetByID(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotFailed, got.Status)
		assert.Nil(t, got.RootHash)
		require.NotNil(t, got.Error)
		assert.Equal(t, "connector down", *got.Error)
	})

	t.Run("latest completed", func(t *testing.T) {
		latest, err := s.snapshots.LatestCompleted(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotCompleted, latest.Status)

		list, err := s.snapshots.ListByProject(ctx, p.ID, 0)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		_, err = s.snapshots.LatestCompleted(ctx, uuid.New())
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("withdraw drops the root of a completed snapshot", func(t *testing.T) {
		snap := s.snapshot(t, p.ID)
		assert.True(t, apperrors.IsConflict(s.snapshots.Withdraw(ctx, snap.ID, "graph down")), "running snapshots are failed, not withdrawn")

		require.NoError(t, s.snapshots.Complete(ctx, snap.ID, "root", map[string]int{"contacts": 1}))
		require.NoError(t, s.snapshots.Withdraw(ctx, snap.ID, "graph down"))

		got, err := s.snapshots.GetByID(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotFailed, got.Status)
		assert.Nil(t, got.RootHash)
		require.NotNil(t, got.Error)
		assert.Equal(t, "graph down", *got.Error)
	})
}

func TestSnapshotItems(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	p := s.project(t, "crm")
	snap := s.snapshot(t, p.ID)

	require.NoError(t, s.blobs.RegisterBatch(ctx, []models.BlobRef{
		{Hash: "h1", ContentType: "contacts"},
		{Hash: "h2", ContentType: "companies"},
	}))
	// registering twice is a no-op
	require.NoError(t, s.blobs.RegisterBatch(ctx, []models.BlobRef{{Hash: "h1", ContentType: "deals"}}))
	ref, err := s.blobs.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "contacts", ref.ContentType)

	items := []models.SnapshotItem{
		{SnapshotID: snap.ID, ObjectType: "contacts", ObjectID: "1", ContentHash: "h1"},
		{SnapshotID: snap.ID, ObjectType: "contacts", ObjectID: "2", ContentHash: "h1"},
		{SnapshotID: snap.ID, ObjectType: "companies", ObjectID: "7", ContentHash: "h2"},
	}
	require.NoError(t, s.items.InsertBatch(ctx, items))

	t.Run("inventory", func(t *testing.T) {
		inv, err := s.items.Inventory(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"contacts/1": "h1", "contacts/2": "h1", "companies/7": "h2"}, inv)
	})

	t.Run("list and count", func(t *testing.T) {
		contacts, err := s.items.ListBySnapshot(ctx, snap.ID, "contacts")
		require.NoError(t, err)
		require.Len(t, contacts, 2)
		assert.Equal(t, "1", contacts[0].ObjectID)

		counts, err := s.items.CountByType(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"contacts": 2, "companies": 1}, counts)

		types, err := s.items.Types(ctx, snap.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"companies", "contacts"}, types)

		hashes, err := s.items.Hashes(ctx, snap.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"h1", "h1", "h2"}, hashes)
	})

	t.Run("duplicate item conflicts and keeps nothing", func(t *testing.T) {
		err := s.items.InsertBatch(ctx, []models.SnapshotItem{
			{SnapshotID: snap.ID, ObjectType: "deals", ObjectID: "9", ContentHash: "h2"},
			{SnapshotID: snap.ID, ObjectType: "contacts", ObjectID: "1", ContentHash: "h2"},
		})
		assert.True(t, apperrors.IsConflict(err))

		deals, err := s.items.ListBySnapshot(ctx, snap.ID, "deals")
		require.NoError(t, err)
		assert.Empty(t, deals, "a failed batch must roll back")
	})

	t.Run("duplicate within one batch", func(t *testing.T) {
		dup := models.SnapshotItem{SnapshotID: snap.ID, ObjectType: "tickets", ObjectID: "1", ContentHash: "h1"}
		assert.True(t, apperrors.IsConflict(s.items.InsertBatch(ctx, []models.SnapshotItem{dup, dup})))
	})

	t.Run("unregistered blob is rejected", func(t *testing.T) {
		err := s.items.InsertBatch(ctx, []models.SnapshotItem{
			{SnapshotID: snap.ID, ObjectType: "tickets", ObjectID: "2", ContentHash: "missing"},
		})
		assert.Error(t, err)
	})
}

func TestIdMappings(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	p := s.project(t, "crm")

	_, ok, err := s.mappings.Latest(ctx, p.ID, "contacts", "1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.mappings.Record(ctx, &models.IdMapping{ProjectID: p.ID, ObjectType: "contacts", OldID: "1", NewID: "101"}))
	require.NoError(t, s.mappings.Record(ctx, &models.IdMapping{ProjectID: p.ID, ObjectType: "contacts", OldID: "101", NewID: "202"}))

	latest, ok, err := s.mappings.Latest(ctx, p.ID, "contacts", "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "101", latest)

	resolved, err := s.mappings.Resolve(ctx, p.ID, "contacts", "1")
	require.NoError(t, err)
	assert.Equal(t, "202", resolved)

	untouched, err := s.mappings.Resolve(ctx, p.ID, "companies", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", untouched)

	all, err := s.mappings.ListByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNormalizedRepository(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)
	p := s.project(t, "crm")
	snap := s.snapshot(t, p.ID)

	rec := models.NormalizedRecord{
		ProjectID:      p.ID,
		ObjectType:     "contacts",
		GlobalID:       "a@x.io",
		Data:           database.NewJSONB(map[string]any{"name": "Alice"}),
		LastSnapshotID: &snap.ID,
	}
	require.NoError(t, s.records.UpsertBatch(ctx, []models.NormalizedRecord{rec}))

	rec.Data = database.NewJSONB(map[string]any{"name": "Alicia"})
	require.NoError(t, s.records.UpsertBatch(ctx, []models.NormalizedRecord{rec}))

	got, err := s.records.Get(ctx, p.ID, "contacts", "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", got.Data.Data["name"])
	require.NotNil(t, got.LastSnapshotID)
	assert.Equal(t, snap.ID, *got.LastSnapshotID)

	many, err := s.records.GetMany(ctx, p.ID, "contacts", []string{"a@x.io", "b@x.io"})
	require.NoError(t, err)
	assert.Len(t, many, 1)

	list, err := s.records.List(ctx, p.ID, "contacts")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.records.Get(ctx, p.ID, "contacts", "nobody")
	assert.True(t, apperrors.IsNotFound(err))
}
