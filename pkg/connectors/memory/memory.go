// Package memory is an in-process live system. Recreated entities get fresh
// ids, the way a CRM assigns new ids after a delete.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Bafix001/zibridge/pkg/connectors"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
)

const maxBatchSize = 100

// Calls counts mutating operations.
type Calls struct {
	Upserts      int
	Updates      int
	Associations int
}

// Connector keeps entities per type keyed by id.
type Connector struct {
	mu       sync.RWMutex
	entities map[string]map[string]models.Entity
	seq      int
	calls    Calls
}

func New() *Connector {
	return &Connector{entities: map[string]map[string]models.Entity{}}
}

// Load seeds a connector from a JSON file of {"type": [entity, ...]}.
func Load(path string) (*Connector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed map[string][]models.Entity
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalid, err, "invalid seed file %s", path)
	}

	c := New()
	for objectType, list := range seed {
		for _, e := range list {
			e.Type = objectType
			c.Put(e)
		}
	}
	return c, nil
}

// Put inserts or replaces an entity under its own id.
func (c *Connector) Put(e models.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(e)
}

func (c *Connector) put(e models.Entity) {
	byID, ok := c.entities[e.Type]
	if !ok {
		byID = map[string]models.Entity{}
		c.entities[e.Type] = byID
	}
	byID[e.ID] = clone(e)
}

// Delete removes an entity and every link pointing at it, simulating a
// deletion made in the live system.
func (c *Connector) Delete(objectType, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entities[objectType], id)

	for _, byID := range c.entities {
		for key, e := range byID {
			kept := e.Links[:0]
			for _, l := range e.Links {
				if l.ToType != objectType || l.ToID != id {
					kept = append(kept, l)
				}
			}
			e.Links = kept
			byID[key] = e
		}
	}
}

// Get returns a copy of a live entity.
func (c *Connector) Get(objectType, id string) (models.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[objectType][id]
	return clone(e), ok
}

func (c *Connector) Len(objectType string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities[objectType])
}

func (c *Connector) Calls() Calls {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

func (c *Connector) SourceType() string { return connectors.SourceMemory }

func (c *Connector) TestConnection(context.Context) bool { return true }

func (c *Connector) MaxBatchSize() int { return maxBatchSize }

func (c *Connector) AvailableObjectTypes(context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := make([]string, 0, len(c.entities))
	for t := range c.entities {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

func (c *Connector) ExtractEntities(ctx context.Context, objectType string) (<-chan models.Entity, <-chan error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entities[objectType]))
	for id := range c.entities[objectType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		list = append(list, clone(c.entities[objectType][id]))
	}
	c.mu.RUnlock()

	return connectors.Stream(ctx, func(emit func(models.Entity) bool) error {
		for _, e := range list {
			if !emit(e) {
				return nil
			}
		}
		return nil
	})
}

// Normalize accepts {"id", "properties", "links"} or a flat record with an
// "id" field and optional _zibridge_links.
func (c *Connector) Normalize(raw map[string]any, objectType string) models.Entity {
	e := models.Entity{Type: objectType, Properties: map[string]any{}}
	if id, ok := raw["id"]; ok && id != nil {
		e.ID = fmt.Sprint(id)
	}
	for k, v := range hashing.Unwrap(raw) {
		if k == "id" || k == hashing.LinksKey || k == "links" {
			continue
		}
		e.Properties[k] = v
	}
	for _, key := range []string{"links", hashing.LinksKey} {
		if v, ok := raw[key]; ok {
			e.Links = append(e.Links, models.LinksFromTokens(hashing.NormalizeLinks(v))...)
		}
	}
	return e
}

// BatchUpsert always creates, assigning new ids.
func (c *Connector) BatchUpsert(ctx context.Context, objectType string, entities []models.Entity) ([]connectors.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls.Upserts++
	results := make([]connectors.UpsertResult, 0, len(entities))
	for _, e := range entities {
		created := models.Entity{Type: objectType, ID: c.nextID(objectType), Properties: e.Properties}
		c.put(created)
		results = append(results, connectors.UpsertResult{OldRef: e.ID, LiveID: created.ID})
	}
	return results, nil
}

// PushUpdate patches an existing entity or recreates a missing one.
func (c *Connector) PushUpdate(ctx context.Context, objectType, liveID string, fields map[string]any) connectors.PushResult {
	if err := ctx.Err(); err != nil {
		return connectors.PushResult{Status: connectors.PushFailed, Error: err.Error()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls.Updates++
	existing, ok := c.entities[objectType][liveID]
	if !ok {
		created := models.Entity{Type: objectType, ID: c.nextID(objectType), Properties: fields}
		c.put(created)
		return connectors.PushResult{Status: connectors.PushResurrected, LiveID: created.ID}
	}

	for k, v := range fields {
		existing.Properties[k] = v
	}
	c.put(existing)
	return connectors.PushResult{Status: connectors.PushUpdated, LiveID: liveID}
}

// BatchCreateAssociations links existing entities. Links to missing
// endpoints fail individually.
func (c *Connector) BatchCreateAssociations(ctx context.Context, links []connectors.Association) ([]connectors.AssociationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls.Associations++
	results := make([]connectors.AssociationResult, 0, len(links))
	for _, l := range links {
		from, ok := c.entities[l.FromType][l.FromID]
		if !ok {
			results = append(results, connectors.AssociationResult{Association: l, Error: fmt.Sprintf("%s/%s not found", l.FromType, l.FromID)})
			continue
		}
		if _, ok := c.entities[l.ToType][l.ToID]; !ok {
			results = append(results, connectors.AssociationResult{Association: l, Error: fmt.Sprintf("%s/%s not found", l.ToType, l.ToID)})
			continue
		}

		link := models.Link{ToType: l.ToType, ToID: l.ToID, Role: l.Role}
		if !hasLink(from, link) {
			from.Links = append(from.Links, link)
			c.put(from)
		}
		results = append(results, connectors.AssociationResult{Association: l, OK: true})
	}
	return results, nil
}

func (c *Connector) nextID(objectType string) string {
	for {
		c.seq++
		id := fmt.Sprintf("live-%d", c.seq)
		if _, taken := c.entities[objectType][id]; !taken {
			return id
		}
	}
}

func hasLink(e models.Entity, l models.Link) bool {
	for _, existing := range e.Links {
		if existing.ToType == l.ToType && existing.ToID == l.ToID {
			return true
		}
	}
	return false
}

func clone(e models.Entity) models.Entity {
	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v
	}
	e.Properties = props
	e.Links = append([]models.Link(nil), e.Links...)
	return e
}
