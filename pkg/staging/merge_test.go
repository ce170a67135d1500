package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot/snapshottest"
)

func contact(id string, props map[string]any) models.Entity {
	return models.Entity{Type: "contacts", ID: id, Properties: props}
}

func TestMergeOverlaysSnapshots(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	merger := NewMerger(env.DB, env.Blobs, env.Logger)
	records := repositories.NewNormalizedRepository(env.DB, env.Logger)
	cfg := models.ProjectConfig{}

	first := env.Capture(t,
		contact("1", map[string]any{"email": "alice@acme.io", "name": "Alice", "phone": "555"}),
		contact("2", map[string]any{"name": "No Email"}),
	)
	n, err := merger.Merge(ctx, env.Project.ID, first.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := env.Capture(t,
		contact("1", map[string]any{"email": "alice@acme.io", "name": "Alicia"}),
	)
	n, err = merger.Merge(ctx, env.Project.ID, second.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	alice, err := records.Get(ctx, env.Project.ID, "contacts", "alice@acme.io")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", alice.Data.Data["name"])
	assert.Equal(t, "555", alice.Data.Data["phone"], "fields missing from the newer snapshot are kept")
	require.NotNil(t, alice.LastSnapshotID)
	assert.Equal(t, second.ID, *alice.LastSnapshotID)

	fallback, err := records.Get(ctx, env.Project.ID, "contacts", "2")
	require.NoError(t, err)
	assert.Equal(t, "No Email", fallback.Data.Data["name"])
}

func TestMergeUsesConfiguredUniqueKey(t *testing.T) {
	env := snapshottest.New(t)
	ctx := context.Background()
	merger := NewMerger(env.DB, env.Blobs, env.Logger)
	merger.batchSize = 1

	snap := env.Capture(t,
		models.Entity{Type: "companies", ID: "10", Properties: map[string]any{"domain": "acme.io", "name": "Acme"}},
		models.Entity{Type: "companies", ID: "11", Properties: map[string]any{"domain": "acme.io", "name": "Acme Inc"}},
	)
	cfg := models.ProjectConfig{Mappings: map[string]models.ObjectMapping{"companies": {UniqueID: "domain"}}}

	n, err := merger.Merge(ctx, env.Project.ID, snap.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := repositories.NewNormalizedRepository(env.DB, env.Logger).List(ctx, env.Project.ID, "companies")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acme.io", list[0].GlobalID)
	assert.Equal(t, "Acme Inc", list[0].Data.Data["name"])
}

func TestGlobalID(t *testing.T) {
	assert.Equal(t, "a@x.io", GlobalID(map[string]any{"email": "a@x.io"}, "email", "7"))
	assert.Equal(t, "7", GlobalID(map[string]any{"email": ""}, "email", "7"))
	assert.Equal(t, "7", GlobalID(map[string]any{"email": nil}, "email", "7"))
	assert.Equal(t, "42", GlobalID(map[string]any{"code": 42}, "code", "7"))
}
