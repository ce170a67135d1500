package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetProjectID(ctx))

	ctx = SetProjectID(ctx, "p1")
	ctx = SetSnapshotID(ctx, "s1")
	ctx = SetRunID(ctx, "r1")

	assert.Equal(t, "p1", GetProjectID(ctx))
	assert.Equal(t, "s1", GetSnapshotID(ctx))
	assert.Equal(t, "r1", GetRunID(ctx))
	assert.Equal(t, map[string]any{
		"X-Project-Id":  "p1",
		"X-Snapshot-Id": "s1",
		"X-Run-Id":      "r1",
	}, Fields(ctx))
}
