package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Bafix001/zibridge/pkg/tracing"
)

// Locker provides a cross-process critical section, e.g. a Redis lock.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

const replaceLockTTL = 5 * time.Minute

// Service guards a Store so that replacing a project's graph never
// interleaves with reads of the same project.
type Service struct {
	store  Store
	locker Locker
	logger ectologger.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewService wraps store. locker may be nil for single-process deployments.
func NewService(store Store, locker Locker, logger ectologger.Logger) *Service {
	return &Service{
		store:  store,
		locker: locker,
		logger: logger,
		locks:  map[string]*sync.RWMutex{},
	}
}

func (s *Service) lockFor(project string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[project]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[project] = l
	}
	return l
}

func (s *Service) write(ctx context.Context, project string, fn func() error) error {
	l := s.lockFor(project)
	l.Lock()
	defer l.Unlock()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "zibridge:graph:"+project, replaceLockTTL)
		if err != nil {
			return fmt.Errorf("failed to lock project graph: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("failed to release project graph lock")
			}
		}()
	}
	return fn()
}

func (s *Service) read(project string) func() {
	l := s.lockFor(project)
	l.RLock()
	return l.RUnlock
}

// Clear removes the project's graph.
func (s *Service) Clear(ctx context.Context, project string) error {
	return s.write(ctx, project, func() error {
		return s.store.Clear(ctx, project)
	})
}

// LinkBatch merges links of one source type.
func (s *Service) LinkBatch(ctx context.Context, project, fromType string, links []Link) error {
	return s.write(ctx, project, func() error {
		return s.store.LinkBatch(ctx, project, fromType, links)
	})
}

// Replace clears the project's graph and loads batch as one critical section.
func (s *Service) Replace(ctx context.Context, project string, batch *Batch) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Service.Replace")
	defer span.End()

	return s.write(ctx, project, func() error {
		if err := s.store.Clear(ctx, project); err != nil {
			return err
		}
		for _, t := range sortedKeys(batch.Entities) {
			if err := s.store.AddEntities(ctx, project, t, batch.Entities[t]); err != nil {
				return err
			}
		}
		for _, t := range sortedKeys(batch.Links) {
			if err := s.store.LinkBatch(ctx, project, t, batch.Links[t]); err != nil {
				return err
			}
		}

		s.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": project,
			"types":      len(batch.Entities),
			"links":      batch.Size(),
		}).Info("Project graph replaced")
		return nil
	})
}

// RestorationLevels groups the project's types into dependency levels;
// referenced types come first. extra adds types that may have no graph presence.
func (s *Service) RestorationLevels(ctx context.Context, project string, extra ...string) ([][]string, error) {
	defer s.read(project)()

	deps, err := s.store.Dependencies(ctx, project)
	if err != nil {
		return nil, err
	}
	return Levels(deps, extra...), nil
}

// RestorationOrder is the flattened RestorationLevels.
func (s *Service) RestorationOrder(ctx context.Context, project string, extra ...string) ([]string, error) {
	levels, err := s.RestorationLevels(ctx, project, extra...)
	if err != nil {
		return nil, err
	}
	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

func (s *Service) Orphans(ctx context.Context, project, sourceType, targetType string) ([]string, error) {
	defer s.read(project)()
	return s.store.Orphans(ctx, project, sourceType, targetType)
}

func (s *Service) Links(ctx context.Context, project, fromType string) ([]Edge, error) {
	defer s.read(project)()
	return s.store.Links(ctx, project, fromType)
}

// Impact summarizes what restoring one entity touches.
type Impact struct {
	ObjectType string              `json:"object_type"`
	ID         string              `json:"id"`
	Relations  map[string][]string `json:"relations"`
	Count      int                 `json:"relation_count"`
	Complexity string              `json:"complexity"` // low, medium or high
}

func (s *Service) Impact(ctx context.Context, project, objectType, id string) (*Impact, error) {
	defer s.read(project)()

	relations, err := s.store.Relations(ctx, project, objectType, id)
	if err != nil {
		return nil, err
	}
	count := 0
	for _, ids := range relations {
		count += len(ids)
	}

	complexity := "high"
	switch {
	case count == 0:
		complexity = "low"
	case count <= 5:
		complexity = "medium"
	}
	return &Impact{ObjectType: objectType, ID: id, Relations: relations, Count: count, Complexity: complexity}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
