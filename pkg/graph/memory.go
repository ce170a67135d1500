package graph

import (
	"context"
	"sort"
	"sync"
)

type nodeKey struct {
	objectType string
	id         string
}

type projectGraph struct {
	nodes map[nodeKey]struct{}
	// out[from][to] = role
	out map[nodeKey]map[nodeKey]string
}

func newProjectGraph() *projectGraph {
	return &projectGraph{nodes: map[nodeKey]struct{}{}, out: map[nodeKey]map[nodeKey]string{}}
}

// Memory is an adjacency-map Store for small deployments and tests.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*projectGraph
}

func NewMemory() *Memory {
	return &Memory{projects: map[string]*projectGraph{}}
}

func (m *Memory) project(project string) *projectGraph {
	g, ok := m.projects[project]
	if !ok {
		g = newProjectGraph()
		m.projects[project] = g
	}
	return g
}

func (m *Memory) Clear(_ context.Context, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, project)
	return nil
}

func (m *Memory) AddEntities(_ context.Context, project, objectType string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.project(project)
	for _, id := range ids {
		g.nodes[nodeKey{objectType, id}] = struct{}{}
	}
	return nil
}

func (m *Memory) LinkBatch(_ context.Context, project, fromType string, links []Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.project(project)
	for _, l := range links {
		from := nodeKey{fromType, l.FromID}
		to := nodeKey{l.ToType, l.ToID}
		g.nodes[from] = struct{}{}
		g.nodes[to] = struct{}{}
		if g.out[from] == nil {
			g.out[from] = map[nodeKey]string{}
		}
		g.out[from][to] = l.Role
	}
	return nil
}

func (m *Memory) Links(_ context.Context, project, fromType string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := []Edge{}
	g, ok := m.projects[project]
	if !ok {
		return edges, nil
	}
	for from, tos := range g.out {
		if from.objectType != fromType {
			continue
		}
		for to, role := range tos {
			edges = append(edges, Edge{FromType: from.objectType, FromID: from.id, ToType: to.objectType, ToID: to.id, Role: role})
		}
	}
	sortEdges(edges)
	return edges, nil
}

func (m *Memory) Dependencies(_ context.Context, project string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deps := map[string][]string{}
	g, ok := m.projects[project]
	if !ok {
		return deps, nil
	}

	seen := map[string]map[string]bool{}
	for n := range g.nodes {
		if _, ok := seen[n.objectType]; !ok {
			seen[n.objectType] = map[string]bool{}
		}
	}
	for from, tos := range g.out {
		for to := range tos {
			seen[from.objectType][to.objectType] = true
		}
	}
	for t, targets := range seen {
		list := make([]string, 0, len(targets))
		for to := range targets {
			list = append(list, to)
		}
		sort.Strings(list)
		deps[t] = list
	}
	return deps, nil
}

func (m *Memory) Orphans(_ context.Context, project, sourceType, targetType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orphans := []string{}
	g, ok := m.projects[project]
	if !ok {
		return orphans, nil
	}
	for n := range g.nodes {
		if n.objectType != sourceType {
			continue
		}
		linked := false
		for to := range g.out[n] {
			if to.objectType == targetType {
				linked = true
				break
			}
		}
		if !linked {
			orphans = append(orphans, n.id)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (m *Memory) Relations(_ context.Context, project, objectType, id string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	relations := map[string][]string{}
	g, ok := m.projects[project]
	if !ok {
		return relations, nil
	}
	for to := range g.out[nodeKey{objectType, id}] {
		relations[to.objectType] = append(relations[to.objectType], to.id)
	}
	for t := range relations {
		sort.Strings(relations[t])
	}
	return relations, nil
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToType != b.ToType {
			return a.ToType < b.ToType
		}
		return a.ToID < b.ToID
	})
}
