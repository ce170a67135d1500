package restore

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/diff"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

// Create is an entity the live system is missing.
type Create struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Links      []string       `json:"links,omitempty"`
}

// Update carries the snapshot values of the fields that drifted.
type Update struct {
	Type    string                      `json:"type"`
	ID      string                      `json:"id"`
	LiveID  string                      `json:"live_id"`
	Fields  map[string]any              `json:"fields"`
	Changes map[string]diff.FieldChange `json:"changes"`
}

// Suture is a snapshot relationship the live system lacks, in snapshot ids.
type Suture struct {
	FromType string `json:"from_type"`
	FromID   string `json:"from_id"`
	ToType   string `json:"to_type"`
	ToID     string `json:"to_id"`
}

type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type PlanSummary struct {
	Create     int `json:"create"`
	Update     int `json:"update"`
	Suture     int `json:"suture"`
	Unchanged  int `json:"unchanged"`
	Extraneous int `json:"extraneous"`
}

// Plan is the full set of operations a restore would perform. It holds no
// timestamps or run ids so the same inputs always serialize identically.
type Plan struct {
	ProjectID  uuid.UUID   `json:"project_id"`
	SnapshotID uuid.UUID   `json:"snapshot_id"`
	Levels     [][]string  `json:"levels"`
	Summary    PlanSummary `json:"summary"`
	ToCreate   []Create    `json:"to_create"`
	ToUpdate   []Update    `json:"to_update"`
	ToSuture   []Suture    `json:"to_suture"`
	// Extraneous live entities are reported only; a restore never deletes.
	Extraneous []Ref `json:"extraneous"`
	// Translations are the live ids known before the run, keyed "type/id".
	Translations map[string]string  `json:"translations"`
	Warnings     []string           `json:"warnings"`
	Skipped      []snapshot.Failure `json:"skipped,omitempty"`
}

// Order is the flattened Levels.
func (p *Plan) Order() []string {
	var order []string
	for _, level := range p.Levels {
		order = append(order, level...)
	}
	return order
}

// Empty reports whether executing the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.ToCreate) == 0 && len(p.ToUpdate) == 0 && len(p.ToSuture) == 0
}

// Plan compares a completed snapshot with the live system, type by type in
// restoration order.
func (e *Engine) Plan(ctx context.Context, projectID, snapshotID uuid.UUID) (*Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "restore.Engine.Plan")
	defer span.End()

	snap, err := e.reader.Snapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.ProjectID != projectID {
		return nil, apperrors.NotFoundf("snapshot %s not found in project %s", snapshotID, projectID)
	}
	if snap.Status != models.SnapshotCompleted {
		return nil, apperrors.Invalidf("snapshot %s is %s, only completed snapshots can be restored", snapshotID, snap.Status)
	}
	project, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}

	types, err := e.reader.Types(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	levels, err := e.levels(ctx, projectID, types)
	if err != nil {
		return nil, err
	}

	p := &planner{
		engine:   e,
		config:   project.Config.Data,
		hasher:   hashing.New(project.Config.Data.IgnoredFields...),
		resolved: map[string]string{},
		plan: &Plan{
			ProjectID:    projectID,
			SnapshotID:   snapshotID,
			Levels:       levels,
			ToCreate:     []Create{},
			ToUpdate:     []Update{},
			ToSuture:     []Suture{},
			Extraneous:   []Ref{},
			Translations: map[string]string{},
			Warnings:     []string{},
		},
	}
	for _, objectType := range p.plan.Order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.planType(ctx, projectID, snapshotID, objectType); err != nil {
			return nil, err
		}
	}

	plan := p.plan
	plan.Summary.Create = len(plan.ToCreate)
	plan.Summary.Update = len(plan.ToUpdate)
	plan.Summary.Suture = len(plan.ToSuture)
	plan.Summary.Extraneous = len(plan.Extraneous)
	plan.Warnings = warnings(plan)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id":  projectID,
		"snapshot_id": snapshotID,
		"create":      plan.Summary.Create,
		"update":      plan.Summary.Update,
		"suture":      plan.Summary.Suture,
		"extraneous":  plan.Summary.Extraneous,
	}).Info("Restore planned")

	return plan, nil
}

// levels keeps only the snapshot's types, in graph order.
func (e *Engine) levels(ctx context.Context, projectID uuid.UUID, types []string) ([][]string, error) {
	if e.graph == nil {
		if len(types) == 0 {
			return [][]string{}, nil
		}
		return [][]string{append([]string(nil), types...)}, nil
	}

	all, err := e.graph.RestorationLevels(ctx, projectID.String(), types...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute restoration order: %w", err)
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	levels := [][]string{}
	for _, level := range all {
		var kept []string
		for _, t := range level {
			if wanted[t] {
				kept = append(kept, t)
			}
		}
		if len(kept) > 0 {
			levels = append(levels, kept)
		}
	}
	return levels, nil
}

type planner struct {
	engine   *Engine
	config   models.ProjectConfig
	hasher   *hashing.Hasher
	plan     *Plan
	resolved map[string]string
}

func (p *planner) planType(ctx context.Context, projectID, snapshotID uuid.UUID, objectType string) error {
	stored, failures, err := p.engine.reader.Entities(ctx, snapshotID, objectType)
	if err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", objectType, err)
	}
	p.plan.Skipped = append(p.plan.Skipped, failures...)

	live, err := connectors.Collect(ctx, p.engine.conn, objectType)
	if err != nil {
		return fmt.Errorf("failed to extract live %s: %w", objectType, err)
	}
	liveByID := make(map[string]models.Entity, len(live))
	for _, l := range live {
		liveByID[l.ID] = l
	}

	claimed := map[string]bool{}
	for _, s := range stored {
		liveID, err := p.resolve(ctx, projectID, objectType, s.ObjectID)
		if err != nil {
			return err
		}
		links, err := p.translateLinks(ctx, projectID, s.Links)
		if err != nil {
			return err
		}

		current, ok := liveByID[liveID]
		if !ok {
			p.plan.ToCreate = append(p.plan.ToCreate, Create{
				Type:       objectType,
				ID:         s.ObjectID,
				Properties: p.config.UnmapFields(objectType, s.Properties),
				Links:      s.Links,
			})
			p.suture(objectType, s.ObjectID, s.Links)
			continue
		}
		claimed[liveID] = true

		// snapshots store mapped field names; compare the live entity the same way
		liveProps := p.config.MapFields(objectType, current.Properties)
		liveLinks := current.LinkTokens()
		if p.hasher.Hash(s.Properties, links) == p.hasher.Hash(liveProps, liveLinks) {
			p.plan.Summary.Unchanged++
			continue
		}

		if fields, changes := p.changedFields(s.Properties, liveProps); len(fields) > 0 {
			p.plan.ToUpdate = append(p.plan.ToUpdate, Update{
				Type:    objectType,
				ID:      s.ObjectID,
				LiveID:  liveID,
				Fields:  p.config.UnmapFields(objectType, fields),
				Changes: p.unmapChanges(objectType, changes),
			})
		}

		have := make(map[string]bool, len(liveLinks))
		for _, t := range liveLinks {
			have[t] = true
		}
		var missing []string
		for i, t := range links {
			if !have[t] {
				missing = append(missing, s.Links[i])
			}
		}
		p.suture(objectType, s.ObjectID, missing)
	}

	extra := make([]string, 0)
	for id := range liveByID {
		if !claimed[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		p.plan.Extraneous = append(p.plan.Extraneous, Ref{Type: objectType, ID: id})
	}
	return nil
}

// resolve returns the live id of a snapshot id, following recorded mappings.
func (p *planner) resolve(ctx context.Context, projectID uuid.UUID, objectType, id string) (string, error) {
	key := objectType + "/" + id
	if live, ok := p.resolved[key]; ok {
		return live, nil
	}
	live, err := p.engine.mappings.Resolve(ctx, projectID, objectType, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", key, err)
	}
	p.resolved[key] = live
	if live != id {
		p.plan.Translations[key] = live
	}
	return live, nil
}

// translateLinks rewrites snapshot link tokens to live ids, keeping the
// input order so callers can index back into the original tokens.
func (p *planner) translateLinks(ctx context.Context, projectID uuid.UUID, tokens []string) ([]string, error) {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		typ, id, ok := hashing.SplitToken(t)
		if !ok {
			out = append(out, t)
			continue
		}
		live, err := p.resolve(ctx, projectID, typ, id)
		if err != nil {
			return nil, err
		}
		out = append(out, hashing.Token(typ, live))
	}
	return out, nil
}

func (p *planner) suture(fromType, fromID string, tokens []string) {
	for _, t := range tokens {
		typ, id, ok := hashing.SplitToken(t)
		if !ok {
			continue
		}
		p.plan.ToSuture = append(p.plan.ToSuture, Suture{FromType: fromType, FromID: fromID, ToType: typ, ToID: id})
	}
}

// changedFields returns the snapshot values of business fields whose
// canonical form differs live. Fields only the live entity has are left alone.
func (p *planner) changedFields(snapshotProps, liveProps map[string]any) (map[string]any, map[string]diff.FieldChange) {
	want := p.hasher.Payload(snapshotProps, nil)
	have := p.hasher.Payload(liveProps, nil)

	fields := map[string]any{}
	changes := map[string]diff.FieldChange{}
	for k, v := range want {
		current, ok := have[k]
		if ok && current == v {
			continue
		}
		fields[k] = snapshotProps[k]
		var old any
		if ok {
			old = liveProps[k]
		}
		changes[k] = diff.FieldChange{Old: old, New: snapshotProps[k]}
	}
	return fields, changes
}

// unmapChanges keys field changes by the live system's field names.
func (p *planner) unmapChanges(objectType string, changes map[string]diff.FieldChange) map[string]diff.FieldChange {
	names := make(map[string]any, len(changes))
	for k := range changes {
		names[k] = k
	}
	out := make(map[string]diff.FieldChange, len(changes))
	for source, mapped := range p.config.UnmapFields(objectType, names) {
		out[source] = changes[mapped.(string)]
	}
	return out
}

func warnings(plan *Plan) []string {
	out := []string{}
	if n := len(plan.Extraneous); n > 0 {
		out = append(out, fmt.Sprintf("%d live object(s) are absent from the snapshot and will be left in place", n))
	}
	if n := len(plan.ToUpdate); n > updateWarningThreshold {
		out = append(out, fmt.Sprintf("%d objects will be modified", n))
	}
	if n := len(plan.ToCreate); n > createWarningThreshold {
		out = append(out, fmt.Sprintf("%d objects will be created", n))
	}
	if n := len(plan.Skipped); n > 0 {
		out = append(out, fmt.Sprintf("%d snapshot item(s) could not be read and are skipped", n))
	}
	return out
}
