package restore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bafix001/zibridge/pkg/connectors"
	"github.com/Bafix001/zibridge/pkg/events"
	"github.com/Bafix001/zibridge/pkg/metrics"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

// Tally counts per-entity outcomes of one phase.
type Tally struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type Failure struct {
	Phase Phase  `json:"phase"`
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Mapping is an identifier change recorded during the run.
type Mapping struct {
	Type  string `json:"type"`
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

type Result struct {
	RunID    uuid.UUID `json:"run_id"`
	Phase    Phase     `json:"phase"`
	DryRun   bool      `json:"dry_run"`
	Plan     *Plan     `json:"plan"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Sutured  int       `json:"sutured"`
	Failed   int       `json:"failed"`
	Creating Tally     `json:"creating"`
	Updating Tally     `json:"updating"`
	Suturing Tally     `json:"suturing"`
	Mappings []Mapping `json:"mappings"`
	Failures []Failure `json:"failures"`
	Error    string    `json:"error,omitempty"`
}

// run carries the mutable state of one Execute call.
type run struct {
	engine *Engine
	plan   *Plan
	ids    *translations

	mu     sync.Mutex
	result *Result
}

// Execute applies a plan. A dry run stops after planning and reports every
// operation as skipped. Per-entity failures are counted; only metadata or
// cancellation errors fail the run. Applied operations are never rolled back,
// so a failed run is resumed by planning again.
func (e *Engine) Execute(ctx context.Context, plan *Plan, dryRun bool) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "restore.Engine.Execute")
	defer span.End()

	result := &Result{
		RunID:    uuid.New(),
		Phase:    PhasePlanning,
		DryRun:   dryRun,
		Plan:     plan,
		Mappings: []Mapping{},
		Failures: []Failure{},
	}
	logger := e.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":      result.RunID,
		"project_id":  plan.ProjectID,
		"snapshot_id": plan.SnapshotID,
	})

	if dryRun {
		result.Creating.Skipped = len(plan.ToCreate)
		result.Updating.Skipped = len(plan.ToUpdate)
		result.Suturing.Skipped = len(plan.ToSuture)
		result.Phase = PhaseDone
		logger.Info("Restore dry run planned, nothing pushed")
		return result, nil
	}

	r := &run{engine: e, plan: plan, ids: newTranslations(plan.Translations), result: result}
	phases := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseCreating, r.create},
		{PhaseUpdating, r.update},
		{PhaseSuturing, r.suture},
	}
	for _, ph := range phases {
		result.Phase = ph.phase
		logger.Infof("Restore phase %s", ph.phase)
		if err := ph.fn(ctx); err != nil {
			result.Error = err.Error()
			result.Phase = PhaseFailed
			result.Failed = result.Creating.Failed + result.Updating.Failed + result.Suturing.Failed
			logger.WithError(err).Errorf("Restore failed during %s", ph.phase)
			e.publish(ctx, events.RestoreFailed, result)
			return result, err
		}
	}

	result.Phase = PhaseDone
	result.Created = result.Creating.Succeeded
	result.Updated = result.Updating.Succeeded
	result.Sutured = result.Suturing.Succeeded
	result.Failed = result.Creating.Failed + result.Updating.Failed + result.Suturing.Failed

	if result.Failed == 0 {
		if err := e.advanceBranch(ctx, plan); err != nil {
			logger.WithError(err).Warn("failed to advance branch after restore")
		}
	}

	logger.WithFields(map[string]any{
		"created": result.Created,
		"updated": result.Updated,
		"sutured": result.Sutured,
		"failed":  result.Failed,
	}).Info("Restore completed")
	e.publish(ctx, events.RestoreCompleted, result)
	return result, nil
}

// create pushes missing entities level by level.
func (r *run) create(ctx context.Context) error {
	byType := map[string][]Create{}
	for _, c := range r.plan.ToCreate {
		byType[c.Type] = append(byType[c.Type], c)
	}

	return r.eachLevel(ctx, func(ctx context.Context, objectType string) error {
		for _, chunk := range connectors.Chunk(byType[objectType], r.engine.conn.MaxBatchSize()) {
			if err := ctx.Err(); err != nil {
				return err
			}
			entities := make([]models.Entity, 0, len(chunk))
			for _, c := range chunk {
				entities = append(entities, models.Entity{Type: c.Type, ID: c.ID, Properties: c.Properties})
			}

			results, err := r.engine.conn.BatchUpsert(ctx, objectType, entities)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				for _, c := range chunk {
					r.fail(PhaseCreating, c.Type, c.ID, err.Error())
				}
				continue
			}

			byRef := make(map[string]connectors.UpsertResult, len(results))
			for _, res := range results {
				byRef[res.OldRef] = res
			}
			for _, c := range chunk {
				res, ok := byRef[c.ID]
				switch {
				case !ok:
					r.fail(PhaseCreating, c.Type, c.ID, "no result returned for entity")
				case res.Error != "" || res.LiveID == "":
					r.fail(PhaseCreating, c.Type, c.ID, res.Error)
				default:
					if err := r.remap(ctx, c.Type, c.ID, res.LiveID); err != nil {
						return err
					}
					r.succeed(PhaseCreating)
				}
			}
		}
		return nil
	})
}

// update pushes drifted fields, one call per entity, in chunks of the
// connector's batch size.
func (r *run) update(ctx context.Context) error {
	byType := map[string][]Update{}
	for _, u := range r.plan.ToUpdate {
		byType[u.Type] = append(byType[u.Type], u)
	}

	return r.eachLevel(ctx, func(ctx context.Context, objectType string) error {
		for _, chunk := range connectors.Chunk(byType[objectType], r.engine.conn.MaxBatchSize()) {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, u := range chunk {
				res := r.engine.conn.PushUpdate(ctx, u.Type, u.LiveID, u.Fields)
				switch res.Status {
				case connectors.PushUpdated:
					r.succeed(PhaseUpdating)
				case connectors.PushResurrected, connectors.PushMerged:
					if res.LiveID != "" && res.LiveID != u.LiveID {
						if err := r.remap(ctx, u.Type, u.ID, res.LiveID); err != nil {
							return err
						}
					}
					r.succeed(PhaseUpdating)
				default:
					r.fail(PhaseUpdating, u.Type, u.ID, res.Error)
				}
			}
		}
		return nil
	})
}

// suture re-creates missing links after translating both endpoints.
func (r *run) suture(ctx context.Context) error {
	groups := map[string]map[string][]connectors.Association{}
	for _, s := range r.plan.ToSuture {
		byTo, ok := groups[s.FromType]
		if !ok {
			byTo = map[string][]connectors.Association{}
			groups[s.FromType] = byTo
		}
		byTo[s.ToType] = append(byTo[s.ToType], connectors.Association{
			FromType: s.FromType,
			FromID:   r.ids.get(s.FromType, s.FromID),
			ToType:   s.ToType,
			ToID:     r.ids.get(s.ToType, s.ToID),
		})
	}

	size := r.engine.conn.MaxBatchSize()
	if size <= 0 {
		size = defaultAssociationBatch
	}

	sutureType := func(ctx context.Context, fromType string) error {
		byTo := groups[fromType]
		toTypes := make([]string, 0, len(byTo))
		for toType := range byTo {
			toTypes = append(toTypes, toType)
		}
		sort.Strings(toTypes)
		for _, toType := range toTypes {
			for _, chunk := range connectors.Chunk(byTo[toType], size) {
				if err := ctx.Err(); err != nil {
					return err
				}
				results, err := r.engine.conn.BatchCreateAssociations(ctx, chunk)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					for _, a := range chunk {
						r.fail(PhaseSuturing, a.FromType, a.FromID, err.Error())
					}
					continue
				}
				for _, res := range results {
					if res.OK {
						r.succeed(PhaseSuturing)
						continue
					}
					r.fail(PhaseSuturing, res.Association.FromType, res.Association.FromID, res.Error)
				}
			}
		}
		return nil
	}

	if err := r.eachLevel(ctx, sutureType); err != nil {
		return err
	}

	// Source types outside the planned levels are sutured last.
	planned := map[string]bool{}
	for _, level := range r.plan.Levels {
		for _, objectType := range level {
			planned[objectType] = true
		}
	}
	rest := make([]string, 0)
	for fromType := range groups {
		if !planned[fromType] {
			rest = append(rest, fromType)
		}
	}
	sort.Strings(rest)
	for _, fromType := range rest {
		if err := sutureType(ctx, fromType); err != nil {
			return err
		}
	}
	return nil
}

// eachLevel runs fn for every type, level by level. Types of one level run
// concurrently.
func (r *run) eachLevel(ctx context.Context, fn func(context.Context, string) error) error {
	for _, level := range r.plan.Levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.engine.workers)
		for _, objectType := range level {
			g.Go(func() error {
				return fn(gctx, objectType)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// remap records that id now lives under liveID.
func (r *run) remap(ctx context.Context, objectType, id, liveID string) error {
	if liveID == r.ids.get(objectType, id) {
		return nil
	}
	snapshotID := r.plan.SnapshotID
	err := r.engine.mappings.Record(ctx, &models.IdMapping{
		ProjectID:  r.plan.ProjectID,
		SnapshotID: &snapshotID,
		ObjectType: objectType,
		OldID:      id,
		NewID:      liveID,
	})
	if err != nil {
		return fmt.Errorf("failed to record id mapping %s/%s: %w", objectType, id, err)
	}
	r.ids.set(objectType, id, liveID)

	r.mu.Lock()
	r.result.Mappings = append(r.result.Mappings, Mapping{Type: objectType, OldID: id, NewID: liveID})
	r.mu.Unlock()
	return nil
}

func (r *run) succeed(phase Phase) {
	metrics.RecordRestoreOperation(string(phase), "success")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tally(phase).Succeeded++
}

func (r *run) fail(phase Phase, objectType, id, reason string) {
	if reason == "" {
		reason = "unknown error"
	}
	metrics.RecordRestoreOperation(string(phase), "failure")
	r.engine.logger.WithFields(map[string]any{
		"phase": phase,
		"item":  objectType + "/" + id,
	}).WithError(errors.New(reason)).Warn("Restore operation failed")

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tally(phase).Failed++
	r.result.Failures = append(r.result.Failures, Failure{Phase: phase, Type: objectType, ID: id, Error: reason})
}

func (r *run) tally(phase Phase) *Tally {
	switch phase {
	case PhaseCreating:
		return &r.result.Creating
	case PhaseUpdating:
		return &r.result.Updating
	default:
		return &r.result.Suturing
	}
}

// advanceBranch points the snapshot's branch, or the default branch, at the
// restored snapshot.
func (e *Engine) advanceBranch(ctx context.Context, plan *Plan) error {
	snap, err := e.reader.Snapshot(ctx, plan.SnapshotID)
	if err != nil {
		return err
	}
	branchID := snap.BranchID
	if branchID == nil {
		branch, err := e.branches.GetOrCreate(ctx, plan.ProjectID, models.DefaultBranch)
		if err != nil {
			return err
		}
		branchID = &branch.ID
	}
	return e.branches.SetCurrentSnapshot(ctx, *branchID, plan.SnapshotID)
}

func (e *Engine) publish(ctx context.Context, eventType string, result *Result) {
	evt := &events.Event{
		Type:       eventType,
		ProjectID:  result.Plan.ProjectID.String(),
		SnapshotID: result.Plan.SnapshotID.String(),
		RunID:      result.RunID.String(),
		Status:     string(result.Phase),
		Counts: map[string]int{
			"created": result.Creating.Succeeded,
			"updated": result.Updating.Succeeded,
			"sutured": result.Suturing.Succeeded,
			"failed":  result.Creating.Failed + result.Updating.Failed + result.Suturing.Failed,
		},
		Error:     result.Error,
		Timestamp: time.Now().UTC(),
	}
	if err := e.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warnf("failed to publish %s", eventType)
	}
}
