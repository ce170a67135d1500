package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingLocker struct {
	mu    sync.Mutex
	keys  []string
	calls int
}

func (l *recordingLocker) Lock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.calls++
	return func(context.Context) error { return nil }, nil
}

func crmBatch() *Batch {
	b := NewBatch()
	b.AddEntity("companies", "c1")
	b.AddEntity("companies", "c2")
	b.AddEntity("contacts", "p1", Link{FromID: "p1", ToType: "companies", ToID: "c1", Role: "works_at"})
	b.AddEntity("contacts", "p2")
	b.AddEntity("deals", "d1",
		Link{FromID: "d1", ToType: "companies", ToID: "c1"},
		Link{FromID: "d1", ToType: "contacts", ToID: "p1"},
	)
	return b
}

func TestServiceReplaceAndQuery(t *testing.T) {
	ctx := context.Background()
	locker := &recordingLocker{}
	svc := NewService(NewMemory(), locker, silentLogger())

	require.NoError(t, svc.Replace(ctx, "p", crmBatch()))
	assert.Equal(t, []string{"zibridge:graph:p"}, locker.keys)

	t.Run("restoration order", func(t *testing.T) {
		order, err := svc.RestorationOrder(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, []string{"companies", "contacts", "deals"}, order)

		order, err = svc.RestorationOrder(ctx, "p", "tickets")
		require.NoError(t, err)
		assert.Equal(t, []string{"companies", "tickets", "contacts", "deals"}, order)
	})

	t.Run("orphans", func(t *testing.T) {
		orphans, err := svc.Orphans(ctx, "p", "contacts", "companies")
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, orphans)

		orphans, err = svc.Orphans(ctx, "p", "deals", "contacts")
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("merge updates role instead of duplicating", func(t *testing.T) {
		require.NoError(t, svc.LinkBatch(ctx, "p", "contacts", []Link{{FromID: "p1", ToType: "companies", ToID: "c1", Role: "owner"}}))

		links, err := svc.Links(ctx, "p", "contacts")
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, "owner", links[0].Role)
	})

	t.Run("impact", func(t *testing.T) {
		impact, err := svc.Impact(ctx, "p", "deals", "d1")
		require.NoError(t, err)
		assert.Equal(t, 2, impact.Count)
		assert.Equal(t, "medium", impact.Complexity)
		assert.Equal(t, map[string][]string{"companies": {"c1"}, "contacts": {"p1"}}, impact.Relations)

		impact, err = svc.Impact(ctx, "p", "companies", "c2")
		require.NoError(t, err)
		assert.Equal(t, "low", impact.Complexity)
	})

	t.Run("replace reflects only the latest sync", func(t *testing.T) {
		b := NewBatch()
		b.AddEntity("companies", "c9")
		require.NoError(t, svc.Replace(ctx, "p", b))

		order, err := svc.RestorationOrder(ctx, "p")
		require.NoError(t, err)
		assert.Equal(t, []string{"companies"}, order)

		links, err := svc.Links(ctx, "p", "contacts")
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("projects are isolated", func(t *testing.T) {
		links, err := svc.Links(ctx, "other", "deals")
		require.NoError(t, err)
		assert.Empty(t, links)
	})
}

func TestServiceClearExcludesReaders(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemory(), nil, silentLogger())
	require.NoError(t, svc.Replace(ctx, "p", crmBatch()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.Replace(ctx, "p", crmBatch())
		}()
		go func() {
			defer wg.Done()
			order, err := svc.RestorationOrder(ctx, "p")
			assert.NoError(t, err)
			// a reader sees either the full graph or nothing in between
			assert.Contains(t, [][]string{{"companies", "contacts", "deals"}}, order)
		}()
	}
	wg.Wait()
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "Contacts", sanitizeLabel("contacts"))
	assert.Equal(t, "Line_items", sanitizeLabel("line_items"))
	assert.Equal(t, "Lineitems", sanitizeLabel("line-items"))
	assert.Equal(t, "T2fa", sanitizeLabel("2fa"))
	assert.Equal(t, "Unknown", sanitizeLabel("---"))
}
