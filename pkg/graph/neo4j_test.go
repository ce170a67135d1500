package graph

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNeo4jStore runs against a live Neo4j/Memgraph when ZIBRIDGE_TEST_GRAPH_URI is set.
func TestNeo4jStore(t *testing.T) {
	uri := os.Getenv("ZIBRIDGE_TEST_GRAPH_URI")
	if testing.Short() || uri == "" {
		t.Skip("Skipping graph integration test")
	}

	ctx := context.Background()
	client, err := NewClient(Config{URI: uri, Username: os.Getenv("ZIBRIDGE_TEST_GRAPH_USER"), Password: os.Getenv("ZIBRIDGE_TEST_GRAPH_PASSWORD")}, silentLogger())
	require.NoError(t, err)
	defer client.Close(ctx)
	require.NoError(t, client.VerifyConnectivity(ctx))

	project := uuid.NewString()
	svc := NewService(NewNeo4j(client, silentLogger()), nil, silentLogger())
	defer svc.Clear(ctx, project)

	require.NoError(t, svc.Replace(ctx, project, crmBatch()))

	order, err := svc.RestorationOrder(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []string{"companies", "contacts", "deals"}, order)

	orphans, err := svc.Orphans(ctx, project, "contacts", "companies")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, orphans)

	require.NoError(t, svc.LinkBatch(ctx, project, "contacts", []Link{{FromID: "p1", ToType: "companies", ToID: "c1", Role: "owner"}}))
	links, err := svc.Links(ctx, project, "contacts")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "owner", links[0].Role)
}

func TestLinkRow(t *testing.T) {
	row := linkRow(Link{FromID: "d1", ToType: "companies", ToID: "c1", Role: "primary"})
	assert.Equal(t, map[string]any{"from_id": "d1", "to_id": "c1", "role": "primary"}, row)
}
