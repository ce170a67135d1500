package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/pkg/models"
)

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, Chunk([]int{1, 2, 3}, 0))
	assert.Empty(t, Chunk([]int{}, 10))
}

func TestStream(t *testing.T) {
	t.Run("delivers then closes", func(t *testing.T) {
		entities, errs := Stream(context.Background(), func(emit func(models.Entity) bool) error {
			emit(models.Entity{ID: "1"})
			emit(models.Entity{ID: "2"})
			return nil
		})
		var ids []string
		for e := range entities {
			ids = append(ids, e.ID)
		}
		assert.Equal(t, []string{"1", "2"}, ids)
		assert.NoError(t, <-errs)
	})

	t.Run("surfaces producer errors", func(t *testing.T) {
		boom := errors.New("boom")
		entities, errs := Stream(context.Background(), func(emit func(models.Entity) bool) error {
			emit(models.Entity{ID: "1"})
			return boom
		})
		for range entities {
		}
		require.ErrorIs(t, <-errs, boom)
	})
}
