package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Bafix001/zibridge/pkg/tracing"
)

// linkBatchSize bounds the rows sent per UNWIND.
const linkBatchSize = 1000

// Neo4j is a Store on Neo4j or Memgraph. Entities are (:Entity:<Type>
// {project_id, type, external_id}) nodes joined by [:LINKS_TO {role}].
type Neo4j struct {
	client *Client
	logger ectologger.Logger
}

func NewNeo4j(client *Client, logger ectologger.Logger) *Neo4j {
	return &Neo4j{client: client, logger: logger}
}

func (s *Neo4j) Clear(ctx context.Context, project string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.Clear")
	defer span.End()

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {project_id: $project_id})
			DETACH DELETE e
		`, map[string]any{"project_id": project})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to clear project graph")
		return fmt.Errorf("failed to clear project graph: %w", err)
	}
	return nil
}

func (s *Neo4j) AddEntities(ctx context.Context, project, objectType string, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.AddEntities")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	cypher := fmt.Sprintf(`
		UNWIND $ids AS id
		MERGE (e:Entity:%s {project_id: $project_id, type: $type, external_id: id})
	`, sanitizeLabel(objectType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for start := 0; start < len(ids); start += linkBatchSize {
			end := min(start+linkBatchSize, len(ids))
			result, err := tx.Run(ctx, cypher, map[string]any{
				"project_id": project,
				"type":       objectType,
				"ids":        toAnySlice(ids[start:end]),
			})
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to add %s entities to graph: %w", objectType, err)
	}
	return nil
}

func (s *Neo4j) LinkBatch(ctx context.Context, project, fromType string, links []Link) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.LinkBatch")
	defer span.End()

	if len(links) == 0 {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project,
		"from_type":  fromType,
		"batch_size": len(links),
	})

	// one UNWIND per target type so both labels are static
	byTarget := map[string][]map[string]any{}
	for _, l := range links {
		byTarget[l.ToType] = append(byTarget[l.ToType], linkRow(l))
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for toType, rows := range byTarget {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS data
				MERGE (from:Entity:%s {project_id: $project_id, type: $from_type, external_id: data.from_id})
				MERGE (to:Entity:%s {project_id: $project_id, type: $to_type, external_id: data.to_id})
				MERGE (from)-[r:LINKS_TO]->(to)
				SET r.role = data.role
			`, sanitizeLabel(fromType), sanitizeLabel(toType))

			for start := 0; start < len(rows); start += linkBatchSize {
				end := min(start+linkBatchSize, len(rows))
				result, err := tx.Run(ctx, cypher, map[string]any{
					"project_id": project,
					"from_type":  fromType,
					"to_type":    toType,
					"batch":      toAnyRows(rows[start:end]),
				})
				if err != nil {
					return nil, err
				}
				if _, err := result.Consume(ctx); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to batch merge links in graph")
		return fmt.Errorf("failed to batch merge links: %w", err)
	}

	log.Debug("Batch merged links in graph")
	return nil
}

func (s *Neo4j) Links(ctx context.Context, project, fromType string) ([]Edge, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.Links")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (from:Entity {project_id: $project_id, type: $from_type})-[r:LINKS_TO]->(to:Entity {project_id: $project_id})
			RETURN from.external_id AS from_id, to.type AS to_type, to.external_id AS to_id, r.role AS role
		`, map[string]any{"project_id": project, "from_type": fromType})
		if err != nil {
			return nil, err
		}

		edges := []Edge{}
		for result.Next(ctx) {
			rec := result.Record()
			edges = append(edges, Edge{
				FromType: fromType,
				FromID:   recordString(rec, "from_id"),
				ToType:   recordString(rec, "to_type"),
				ToID:     recordString(rec, "to_id"),
				Role:     recordString(rec, "role"),
			})
		}
		return edges, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read links from graph: %w", err)
	}

	edges := res.([]Edge)
	sortEdges(edges)
	return edges, nil
}

func (s *Neo4j) Dependencies(ctx context.Context, project string) (map[string][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.Dependencies")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		deps := map[string][]string{}

		types, err := tx.Run(ctx, `
			MATCH (e:Entity {project_id: $project_id})
			RETURN DISTINCT e.type AS type
		`, map[string]any{"project_id": project})
		if err != nil {
			return nil, err
		}
		for types.Next(ctx) {
			deps[recordString(types.Record(), "type")] = []string{}
		}
		if err := types.Err(); err != nil {
			return nil, err
		}

		edges, err := tx.Run(ctx, `
			MATCH (a:Entity {project_id: $project_id})-[:LINKS_TO]->(b:Entity {project_id: $project_id})
			RETURN DISTINCT a.type AS from_type, b.type AS to_type
		`, map[string]any{"project_id": project})
		if err != nil {
			return nil, err
		}
		for edges.Next(ctx) {
			rec := edges.Record()
			from := recordString(rec, "from_type")
			deps[from] = append(deps[from], recordString(rec, "to_type"))
		}
		return deps, edges.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read type dependencies from graph: %w", err)
	}

	deps := res.(map[string][]string)
	for t := range deps {
		sort.Strings(deps[t])
	}
	return deps, nil
}

func (s *Neo4j) Orphans(ctx context.Context, project, sourceType, targetType string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.Orphans")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {project_id: $project_id, type: $source_type})
			WHERE NOT (e)-[:LINKS_TO]->(:Entity {project_id: $project_id, type: $target_type})
			RETURN e.external_id AS id
			ORDER BY id
		`, map[string]any{"project_id": project, "source_type": sourceType, "target_type": targetType})
		if err != nil {
			return nil, err
		}

		ids := []string{}
		for result.Next(ctx) {
			ids = append(ids, recordString(result.Record(), "id"))
		}
		return ids, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find orphans in graph: %w", err)
	}
	return res.([]string), nil
}

func (s *Neo4j) Relations(ctx context.Context, project, objectType, id string) (map[string][]string, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Neo4j.Relations")
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:Entity {project_id: $project_id, type: $type, external_id: $id})-[:LINKS_TO]->(related:Entity)
			RETURN related.type AS type, related.external_id AS id
			ORDER BY type, id
		`, map[string]any{"project_id": project, "type": objectType, "id": id})
		if err != nil {
			return nil, err
		}

		relations := map[string][]string{}
		for result.Next(ctx) {
			rec := result.Record()
			t := recordString(rec, "type")
			relations[t] = append(relations[t], recordString(rec, "id"))
		}
		return relations, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read relations from graph: %w", err)
	}
	return res.(map[string][]string), nil
}

func linkRow(l Link) map[string]any {
	return map[string]any{
		"from_id": l.FromID,
		"to_id":   l.ToID,
		"role":    l.Role,
	}
}

func toAnyRows(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func recordString(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// sanitizeLabel turns an object type into a Cypher label: alphanumerics and
// underscores only, first letter upper-cased.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	result := b.String()
	if result == "" {
		return "Unknown"
	}
	if result[0] >= '0' && result[0] <= '9' {
		result = "T" + result
	}
	return strings.ToUpper(result[:1]) + result[1:]
}
