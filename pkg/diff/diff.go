// Package diff compares two snapshots of a project.
package diff

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/metrics"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/snapshot"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

type Status string

const (
	StatusIdentical Status = "identical"
	StatusChanged   Status = "changed"
)

const loadConcurrency = 8

// FieldChange is the value of one business field on each side. A field
// missing on one side is nil there.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// RelationshipDelta lists link tokens only present on one side.
type RelationshipDelta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// DeepDiff is the field and relationship delta between two blobs.
type DeepDiff struct {
	Fields        map[string]FieldChange `json:"fields"`
	Relationships RelationshipDelta      `json:"relationships"`
}

// Empty reports whether nothing a user would see changed.
func (d *DeepDiff) Empty() bool {
	return len(d.Fields) == 0 && len(d.Relationships.Added) == 0 && len(d.Relationships.Removed) == 0
}

// Entry is one classified inventory key.
type Entry struct {
	Type    string    `json:"type"`
	ID      string    `json:"id"`
	Hash    string    `json:"hash,omitempty"`
	OldHash string    `json:"old_hash,omitempty"`
	NewHash string    `json:"new_hash,omitempty"`
	Changes *DeepDiff `json:"changes,omitempty"`
	Links   []string  `json:"links,omitempty"`
}

type Summary struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

type Report struct {
	OldSnapshotID uuid.UUID          `json:"old_snapshot_id"`
	NewSnapshotID uuid.UUID          `json:"new_snapshot_id"`
	Status        Status             `json:"status"`
	Summary       Summary            `json:"summary"`
	Created       []Entry            `json:"created"`
	Updated       []Entry            `json:"updated"`
	Deleted       []Entry            `json:"deleted"`
	Failures      []snapshot.Failure `json:"failures,omitempty"`
}

// Engine builds diff reports from stored snapshots.
type Engine struct {
	snapshots *repositories.SnapshotRepository
	items     *repositories.SnapshotItemRepository
	projects  *repositories.ProjectRepository
	reader    *snapshot.Reader
	logger    ectologger.Logger
}

func NewEngine(db database.DB, blobs blob.Store, logger ectologger.Logger) *Engine {
	return &Engine{
		snapshots: repositories.NewSnapshotRepository(db, logger),
		items:     repositories.NewSnapshotItemRepository(db, logger),
		projects:  repositories.NewProjectRepository(db, logger),
		reader:    snapshot.NewReader(db, blobs, logger),
		logger:    logger,
	}
}

// GenerateReport classifies every item of newID against oldID. Snapshots
// with equal roots are reported identical without reading their items.
func (e *Engine) GenerateReport(ctx context.Context, oldID, newID uuid.UUID) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "diff.Engine.GenerateReport")
	defer span.End()

	oldSnap, err := e.completed(ctx, oldID)
	if err != nil {
		return nil, err
	}
	newSnap, err := e.completed(ctx, newID)
	if err != nil {
		return nil, err
	}
	if oldSnap.ProjectID != newSnap.ProjectID {
		return nil, apperrors.Invalidf("snapshots %s and %s belong to different projects", oldID, newID)
	}

	report := &Report{
		OldSnapshotID: oldID,
		NewSnapshotID: newID,
		Status:        StatusIdentical,
		Created:       []Entry{},
		Updated:       []Entry{},
		Deleted:       []Entry{},
	}

	if oldSnap.RootHash != nil && newSnap.RootHash != nil && *oldSnap.RootHash == *newSnap.RootHash {
		report.Summary.Unchanged = newSnap.TotalObjects
		metrics.DiffsTotal.WithLabelValues(string(StatusIdentical)).Inc()
		e.logger.WithContext(ctx).Debugf("Snapshots %s and %s share root %s", oldID, newID, *newSnap.RootHash)
		return report, nil
	}

	oldInv, err := e.items.Inventory(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory of %s: %w", oldID, err)
	}
	newInv, err := e.items.Inventory(ctx, newID)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory of %s: %w", newID, err)
	}

	for _, key := range sortedKeys(newInv) {
		typ, id := splitKey(key)
		newHash := newInv[key]
		oldHash, ok := oldInv[key]
		switch {
		case !ok:
			report.Created = append(report.Created, Entry{Type: typ, ID: id, Hash: newHash})
		case oldHash != newHash:
			report.Updated = append(report.Updated, Entry{Type: typ, ID: id, OldHash: oldHash, NewHash: newHash})
		default:
			report.Summary.Unchanged++
		}
	}
	for _, key := range sortedKeys(oldInv) {
		if _, ok := newInv[key]; ok {
			continue
		}
		typ, id := splitKey(key)
		report.Deleted = append(report.Deleted, Entry{Type: typ, ID: id, Hash: oldInv[key]})
	}

	report.Summary.Created = len(report.Created)
	report.Summary.Updated = len(report.Updated)
	report.Summary.Deleted = len(report.Deleted)

	if err := e.details(ctx, report, e.ignoredFields(ctx, newSnap.ProjectID)); err != nil {
		return nil, err
	}

	if report.Summary.Created+report.Summary.Updated+report.Summary.Deleted > 0 {
		report.Status = StatusChanged
	}
	metrics.DiffsTotal.WithLabelValues(string(report.Status)).Inc()

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"old_snapshot_id": oldID,
		"new_snapshot_id": newID,
		"created":         report.Summary.Created,
		"updated":         report.Summary.Updated,
		"deleted":         report.Summary.Deleted,
		"unchanged":       report.Summary.Unchanged,
	}).Info("Diff report generated")

	return report, nil
}

// details fills the deep diff of updated entries and the relationships of
// deleted ones. Unreadable blobs are reported as failures and skipped.
func (e *Engine) details(ctx context.Context, report *Report, ignored []string) error {
	hasher := hashing.New(ignored...)
	updatedErrs := make([]error, len(report.Updated))
	deletedErrs := make([]error, len(report.Deleted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i := range report.Updated {
		g.Go(func() error {
			entry := &report.Updated[i]
			d, err := e.deepDiff(gctx, hasher, entry.OldHash, entry.NewHash)
			if err != nil {
				if skippable(err) {
					updatedErrs[i] = err
					return nil
				}
				return err
			}
			entry.Changes = d
			return nil
		})
	}
	for i := range report.Deleted {
		g.Go(func() error {
			entry := &report.Deleted[i]
			_, links, err := e.reader.Load(gctx, entry.Hash)
			if err != nil {
				if skippable(err) {
					deletedErrs[i] = err
					return nil
				}
				return err
			}
			entry.Links = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	record := func(entry Entry, err error) {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item": entry.Type + "/" + entry.ID,
		}).Warn("Skipping diff detail of unreadable item")
		report.Failures = append(report.Failures, snapshot.Failure{ObjectType: entry.Type, ObjectID: entry.ID, Error: err.Error()})
	}
	for i, err := range updatedErrs {
		if err != nil {
			record(report.Updated[i], err)
		}
	}
	for i, err := range deletedErrs {
		if err != nil {
			record(report.Deleted[i], err)
		}
	}
	return nil
}

// DeepDiff loads two blobs and compares their business fields and links.
// Fields in ignored (on top of the hasher defaults) are not compared.
func (e *Engine) DeepDiff(ctx context.Context, oldHash, newHash string, ignored ...string) (*DeepDiff, error) {
	ctx, span := tracing.StartSpan(ctx, "diff.Engine.DeepDiff")
	defer span.End()
	return e.deepDiff(ctx, hashing.New(ignored...), oldHash, newHash)
}

func (e *Engine) deepDiff(ctx context.Context, hasher *hashing.Hasher, oldHash, newHash string) (*DeepDiff, error) {
	oldProps, oldLinks, err := e.reader.Load(ctx, oldHash)
	if err != nil {
		return nil, err
	}
	newProps, newLinks, err := e.reader.Load(ctx, newHash)
	if err != nil {
		return nil, err
	}
	return Compare(hasher, oldProps, oldLinks, newProps, newLinks), nil
}

// Compare diffs two decoded documents.
func Compare(hasher *hashing.Hasher, oldProps map[string]any, oldLinks []string, newProps map[string]any, newLinks []string) *DeepDiff {
	d := &DeepDiff{Fields: map[string]FieldChange{}}

	keys := map[string]struct{}{}
	for k := range oldProps {
		keys[k] = struct{}{}
	}
	for k := range newProps {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if hasher.IsIgnored(k) {
			continue
		}
		oldVal, newVal := oldProps[k], newProps[k]
		if reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		d.Fields[k] = FieldChange{Old: oldVal, New: newVal}
	}

	d.Relationships.Added = difference(newLinks, oldLinks)
	d.Relationships.Removed = difference(oldLinks, newLinks)
	return d
}

func (e *Engine) completed(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	snap, err := e.snapshots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap.Status != models.SnapshotCompleted {
		return nil, apperrors.Invalidf("snapshot %s is %s, only completed snapshots can be compared", id, snap.Status)
	}
	return snap, nil
}

func (e *Engine) ignoredFields(ctx context.Context, projectID uuid.UUID) []string {
	project, err := e.projects.GetByID(ctx, projectID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("failed to load project config, using default ignored fields")
		return nil
	}
	return project.Config.Data.IgnoredFields
}

func skippable(err error) bool {
	return apperrors.IsNotFound(err) || apperrors.IsIntegrityFailure(err)
}

// difference returns the sorted tokens of a that are not in b.
func difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, t := range b {
		in[t] = struct{}{}
	}
	out := []string{}
	for _, t := range a {
		if _, ok := in[t]; !ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func splitKey(key string) (string, string) {
	typ, id, _ := strings.Cut(key, "/")
	return typ, id
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
