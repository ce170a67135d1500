package diff

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/snapshot/snapshottest"
)

func newEngine(env *snapshottest.Env) *Engine {
	return NewEngine(env.DB, env.Blobs, env.Logger)
}

func TestGenerateReportFastPath(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	engine := newEngine(env)

	a := env.Capture(t, snapshottest.Contact("1", "Alice"), snapshottest.Company("10", "Acme"))
	b := env.Capture(t, snapshottest.Company("10", "Acme"), snapshottest.Contact("1", "Alice"))
	require.Equal(t, *a.RootHash, *b.RootHash)

	t.Run("same snapshot", func(t *testing.T) {
		before := env.Blobs.Gets()
		report, err := engine.GenerateReport(ctx, a.ID, a.ID)
		require.NoError(t, err)

		assert.Equal(t, StatusIdentical, report.Status)
		assert.Equal(t, Summary{Unchanged: 2}, report.Summary)
		assert.Empty(t, report.Created)
		assert.Empty(t, report.Updated)
		assert.Empty(t, report.Deleted)
		assert.Equal(t, before, env.Blobs.Gets())
	})

	t.Run("equal roots never read blobs", func(t *testing.T) {
		before := env.Blobs.Gets()
		report, err := engine.GenerateReport(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusIdentical, report.Status)
		assert.Equal(t, before, env.Blobs.Gets())
	})
}

func TestGenerateReportRename(t *testing.T) {
	env := snapshottest.New(t)
	engine := newEngine(env)

	s1 := env.Capture(t, snapshottest.Contact("1", "Alice"))
	s2 := env.Capture(t, snapshottest.Contact("1", "Alicia"))

	report, err := engine.GenerateReport(context.Background(), s1.ID, s2.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusChanged, report.Status)
	assert.Equal(t, Summary{Updated: 1}, report.Summary)
	require.Len(t, report.Updated, 1)

	entry := report.Updated[0]
	assert.Equal(t, "contacts", entry.Type)
	assert.Equal(t, "1", entry.ID)
	require.NotNil(t, entry.Changes)
	assert.Equal(t, map[string]FieldChange{"name": {Old: "Alice", New: "Alicia"}}, entry.Changes.Fields)
	assert.Empty(t, entry.Changes.Relationships.Added)
	assert.Empty(t, entry.Changes.Relationships.Removed)
}

func TestGenerateReportClassification(t *testing.T) {
	env := snapshottest.New(t)
	engine := newEngine(env)
	worksAt := func(id string) models.Link { return models.Link{ToType: "companies", ToID: id} }

	s1 := env.Capture(t,
		snapshottest.Company("10", "Acme"),
		snapshottest.Company("11", "Globex"),
		snapshottest.Contact("1", "Alice", worksAt("10")),
		snapshottest.Contact("2", "Bob", worksAt("11")),
		snapshottest.Contact("3", "Carol"),
	)
	s2 := env.Capture(t,
		snapshottest.Company("10", "Acme"),
		snapshottest.Contact("1", "Alice", worksAt("10"), worksAt("12")),
		snapshottest.Contact("3", "Carol"),
		snapshottest.Contact("4", "Dan"),
		snapshottest.Company("12", "Initech"),
	)

	report, err := engine.GenerateReport(context.Background(), s1.ID, s2.ID)
	require.NoError(t, err)

	assert.Equal(t, Summary{Created: 2, Updated: 1, Deleted: 2, Unchanged: 2}, report.Summary)

	keys := func(entries []Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Type+"/"+e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"companies/12", "contacts/4"}, keys(report.Created))
	assert.Equal(t, []string{"contacts/1"}, keys(report.Updated))
	assert.Equal(t, []string{"companies/11", "contacts/2"}, keys(report.Deleted))

	changes := report.Updated[0].Changes
	require.NotNil(t, changes)
	assert.Empty(t, changes.Fields)
	assert.Equal(t, []string{"companies:12"}, changes.Relationships.Added)
	assert.Empty(t, changes.Relationships.Removed)

	assert.Empty(t, report.Deleted[0].Links)
	assert.Equal(t, []string{"companies:11"}, report.Deleted[1].Links, "deleted entries keep their relationships")
}

func TestGenerateReportSkipsMissingBlobs(t *testing.T) {
	env := snapshottest.New(t)
	engine := newEngine(env)

	s1 := env.Capture(t, snapshottest.Contact("1", "Alice"), snapshottest.Contact("2", "Bob"))
	s2 := env.Capture(t, snapshottest.Contact("1", "Alicia"), snapshottest.Contact("2", "Robert"))

	items, err := repositories.NewSnapshotItemRepository(env.DB, env.Logger).ListBySnapshot(context.Background(), s2.ID, "contacts")
	require.NoError(t, err)
	env.Blobs.Delete(blob.Key(items[0].ContentHash))

	report, err := engine.GenerateReport(context.Background(), s1.ID, s2.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.Updated)
	assert.Nil(t, report.Updated[0].Changes)
	require.NotNil(t, report.Updated[1].Changes)
	assert.Equal(t, FieldChange{Old: "Bob", New: "Robert"}, report.Updated[1].Changes.Fields["name"])
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "1", report.Failures[0].ObjectID)
}

func TestGenerateReportRejectsUnfinishedSnapshots(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	engine := newEngine(env)

	done := env.Capture(t, snapshottest.Contact("1", "Alice"))
	session, err := env.Engine.Begin(ctx, snapshot.Request{ProjectID: env.Project.ID})
	require.NoError(t, err)

	_, err = engine.GenerateReport(ctx, done.ID, session.ID())
	assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))

	_, err = engine.GenerateReport(ctx, done.ID, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeepDiff(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	engine := newEngine(env)
	h := hashing.New()

	oldDoc, oldHash := h.Document(map[string]any{"name": "Alice", "phone": "555", "lastmodifieddate": "2024"}, []string{"companies:1", "deals:7"})
	newDoc, newHash := h.Document(map[string]any{"name": "Alice", "email": "a@x.io"}, []string{"companies:2", "deals:7"})
	_, err := env.Blobs.Put(ctx, blob.Key(oldHash), oldDoc)
	require.NoError(t, err)
	_, err = env.Blobs.Put(ctx, blob.Key(newHash), newDoc)
	require.NoError(t, err)

	d, err := engine.DeepDiff(ctx, oldHash, newHash)
	require.NoError(t, err)
	assert.Equal(t, map[string]FieldChange{
		"phone": {Old: "555", New: nil},
		"email": {Old: nil, New: "a@x.io"},
	}, d.Fields)
	assert.Equal(t, []string{"companies:2"}, d.Relationships.Added)
	assert.Equal(t, []string{"companies:1"}, d.Relationships.Removed)
	assert.False(t, d.Empty())

	same, err := engine.DeepDiff(ctx, oldHash, oldHash)
	require.NoError(t, err)
	assert.True(t, same.Empty())

	_, err = engine.DeepDiff(ctx, oldHash, hashing.Sum([]byte("missing")))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCompareHonoursIgnoredFields(t *testing.T) {
	d := Compare(hashing.New("score"),
		map[string]any{"name": "A", "score": "1", "id": "9"}, nil,
		map[string]any{"name": "A", "score": "2", "id": "10"}, nil)
	assert.True(t, d.Empty())
}
