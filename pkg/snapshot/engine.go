// Package snapshot captures a source's entities into content-addressed
// snapshots.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/graph"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/metrics"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

// DefaultFlushSize is the number of pending items that triggers a flush.
const DefaultFlushSize = 500

// Engine writes snapshots. One Engine serves any number of concurrent
// sessions.
type Engine struct {
	db        database.DB
	snapshots *repositories.SnapshotRepository
	items     *repositories.SnapshotItemRepository
	blobRefs  *repositories.BlobRefRepository
	blobs     blob.Store
	graph     *graph.Service
	logger    ectologger.Logger
	flushSize int
}

type Option func(*Engine)

// WithFlushSize overrides DefaultFlushSize.
func WithFlushSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.flushSize = n
		}
	}
}

// NewEngine builds an engine. graphs may be nil when no relationship graph
// is kept.
func NewEngine(db database.DB, blobs blob.Store, graphs *graph.Service, logger ectologger.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:        db,
		snapshots: repositories.NewSnapshotRepository(db, logger),
		items:     repositories.NewSnapshotItemRepository(db, logger),
		blobRefs:  repositories.NewBlobRefRepository(db, logger),
		blobs:     blobs,
		graph:     graphs,
		logger:    logger,
		flushSize: DefaultFlushSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request describes the snapshot to begin.
type Request struct {
	ProjectID  uuid.UUID
	BranchID   *uuid.UUID
	SourceName string
	SourceType string
	Config     models.ProjectConfig
	SyncConfig map[string]any
}

// Failure is one entity that could not be ingested.
type Failure struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Error      string `json:"error"`
}

// EntityError is returned by Ingest when only the current entity was
// dropped. The session stays usable.
type EntityError struct {
	ObjectType string
	ObjectID   string
	Err        error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.ObjectType, e.ObjectID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Stats summarizes a session.
type Stats struct {
	Ingested     int            `json:"ingested"`
	Failed       int            `json:"failed"`
	BlobsWritten int            `json:"blobs_written"`
	BlobsReused  int            `json:"blobs_reused"`
	Counts       map[string]int `json:"counts"`
	Failures     []Failure      `json:"failures,omitempty"`
}

// Session is one running snapshot. Ingest is safe for concurrent use.
type Session struct {
	engine   *Engine
	snapshot *models.Snapshot
	config   models.ProjectConfig
	hasher   *hashing.Hasher

	mu         sync.Mutex
	pending    []models.SnapshotItem
	newRefs    map[string]models.BlobRef
	registered map[string]bool
	seen       map[string]struct{}
	hashes     []string
	batch      *graph.Batch
	stats      Stats
	done       bool
	committed  bool
}

// Begin creates a running snapshot and returns the session that fills it.
func (e *Engine) Begin(ctx context.Context, req Request) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Engine.Begin")
	defer span.End()

	snap := &models.Snapshot{
		ProjectID:  req.ProjectID,
		BranchID:   req.BranchID,
		SourceName: req.SourceName,
		SourceType: req.SourceType,
		Status:     models.SnapshotRunning,
	}
	if req.SyncConfig != nil {
		snap.SyncConfig = database.NewJSONB(req.SyncConfig)
	}
	if err := e.snapshots.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": snap.ID,
		"project_id":  snap.ProjectID,
		"source_type": snap.SourceType,
	}).Info("Snapshot started")

	return &Session{
		engine:     e,
		snapshot:   snap,
		config:     req.Config,
		hasher:     hashing.New(req.Config.IgnoredFields...),
		newRefs:    map[string]models.BlobRef{},
		registered: map[string]bool{},
		seen:       map[string]struct{}{},
		batch:      graph.NewBatch(),
		stats:      Stats{Counts: map[string]int{}},
	}, nil
}

func (s *Session) ID() uuid.UUID {
	return s.snapshot.ID
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Counts = make(map[string]int, len(s.stats.Counts))
	for k, v := range s.stats.Counts {
		out.Counts[k] = v
	}
	out.Failures = append([]Failure(nil), s.stats.Failures...)
	return out
}

// Ingest records one raw entity. relations accepts any shape
// hashing.NormalizeLinks understands. An *EntityError means the entity was
// skipped and counted; any other error is fatal to the session.
func (s *Session) Ingest(ctx context.Context, objectType, externalID string, raw map[string]any, relations any) error {
	tokens := hashing.NormalizeLinks(relations)
	links := make([]graph.Link, 0, len(tokens))
	for _, l := range models.LinksFromTokens(tokens) {
		links = append(links, graph.Link{FromID: externalID, ToType: l.ToType, ToID: l.ToID})
	}
	return s.ingest(ctx, objectType, externalID, hashing.Unwrap(raw), tokens, links)
}

// IngestEntity records a normalized entity, keeping link roles for the graph.
func (s *Session) IngestEntity(ctx context.Context, e models.Entity) error {
	links := make([]graph.Link, 0, len(e.Links))
	for _, l := range e.Links {
		if l.ToType == "" || l.ToID == "" {
			continue
		}
		links = append(links, graph.Link{FromID: e.ID, ToType: l.ToType, ToID: l.ToID, Role: l.Role})
	}
	return s.ingest(ctx, e.Type, e.ID, e.Properties, e.LinkTokens(), links)
}

func (s *Session) ingest(ctx context.Context, objectType, externalID string, props map[string]any, tokens []string, links []graph.Link) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if objectType == "" || externalID == "" {
		return s.entityFailure(objectType, externalID, apperrors.Invalidf("entity needs a type and an id"))
	}

	props = s.config.MapFields(objectType, props)
	doc, digest := s.hasher.Document(props, tokens)

	written, err := s.engine.blobs.Put(ctx, blob.Key(digest), doc)
	if err != nil {
		return s.entityFailure(objectType, externalID, fmt.Errorf("failed to store blob: %w", err))
	}
	metrics.RecordBlobPut(written)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return apperrors.Conflictf("snapshot %s is already finalized", s.snapshot.ID)
	}

	key := objectType + "/" + externalID
	if _, dup := s.seen[key]; dup {
		return s.entityFailureLocked(objectType, externalID, apperrors.Conflictf("duplicate item %s in snapshot %s", key, s.snapshot.ID))
	}
	s.seen[key] = struct{}{}

	if written {
		s.stats.BlobsWritten++
	} else {
		s.stats.BlobsReused++
	}
	if !s.registered[digest] {
		if _, ok := s.newRefs[digest]; !ok {
			s.newRefs[digest] = models.BlobRef{Hash: digest, ContentType: objectType, Size: int64(len(doc))}
		}
	}

	s.pending = append(s.pending, models.SnapshotItem{
		SnapshotID:  s.snapshot.ID,
		ObjectType:  objectType,
		ObjectID:    externalID,
		ContentHash: digest,
	})
	s.hashes = append(s.hashes, digest)
	s.batch.AddEntity(objectType, externalID, links...)
	s.stats.Ingested++
	s.stats.Counts[objectType]++
	metrics.RecordIngest(objectType, "ingested")

	if len(s.pending) >= s.engine.flushSize {
		return s.flushLocked(ctx)
	}
	return nil
}

func (s *Session) entityFailure(objectType, objectID string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entityFailureLocked(objectType, objectID, err)
}

func (s *Session) entityFailureLocked(objectType, objectID string, err error) error {
	s.stats.Failed++
	s.stats.Failures = append(s.stats.Failures, Failure{ObjectType: objectType, ObjectID: objectID, Error: err.Error()})
	metrics.RecordIngest(objectType, "failed")
	return &EntityError{ObjectType: objectType, ObjectID: objectID, Err: err}
}

// Flush writes pending items and their blob registrations in one transaction.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked keeps the pending batch when the write fails.
func (s *Session) flushLocked(ctx context.Context) (err error) {
	if len(s.pending) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "snapshot.Session.Flush")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	refs := make([]models.BlobRef, 0, len(s.newRefs))
	for _, ref := range s.newRefs {
		refs = append(refs, ref)
	}

	txCtx, tx, err := s.engine.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(txCtx)
		}
	}()

	if err = s.engine.blobRefs.RegisterBatch(txCtx, refs); err != nil {
		return fmt.Errorf("failed to register blobs: %w", err)
	}
	if err = s.engine.items.InsertBatch(txCtx, s.pending); err != nil {
		return fmt.Errorf("failed to insert snapshot items: %w", err)
	}
	if err = tx.Commit(txCtx); err != nil {
		return err
	}

	for _, ref := range refs {
		s.registered[ref.Hash] = true
	}
	s.engine.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": s.snapshot.ID,
		"items":       len(s.pending),
		"blobs":       len(refs),
	}).Debug("Flushed snapshot batch")

	s.pending = s.pending[:0]
	s.newRefs = map[string]models.BlobRef{}
	return nil
}

// Finalize flushes, seals the snapshot with its Merkle root and then replaces
// the project graph. The snapshot stays completed only if the graph was
// replaced; on any failure it ends failed without a root.
func (s *Session) Finalize(ctx context.Context) (*models.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Session.Finalize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, apperrors.Conflictf("snapshot %s is already finalized", s.snapshot.ID)
	}

	snap, err := s.finalizeLocked(ctx)
	if err != nil {
		s.failLocked(ctx, err)
		return nil, err
	}
	return snap, nil
}

func (s *Session) finalizeLocked(ctx context.Context) (_ *models.Snapshot, err error) {
	e := s.engine
	if err := s.flushLocked(ctx); err != nil {
		return nil, err
	}

	root := hashing.MerkleRoot(s.hashes)
	stored, err := e.items.Hashes(ctx, s.snapshot.ID)
	if err != nil {
		return nil, err
	}
	if hashing.MerkleRoot(stored) != root {
		return nil, apperrors.Integrityf("snapshot %s root mismatch: %d items ingested, %d stored", s.snapshot.ID, len(s.hashes), len(stored))
	}

	txCtx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(txCtx)
		}
	}()

	if err = e.snapshots.Complete(txCtx, s.snapshot.ID, root, s.stats.Counts); err != nil {
		return nil, err
	}
	if err = tx.Commit(txCtx); err != nil {
		return nil, err
	}
	s.committed = true

	// The graph store is not part of the SQL transaction: it only changes once
	// the snapshot is durably complete.
	if e.graph != nil {
		if err := e.graph.Replace(ctx, s.snapshot.ProjectID.String(), s.batch); err != nil {
			return nil, fmt.Errorf("failed to replace project graph: %w", err)
		}
	}

	s.done = true
	metrics.SnapshotsTotal.WithLabelValues(s.snapshot.SourceType, string(models.SnapshotCompleted)).Inc()

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": s.snapshot.ID,
		"root_hash":   root,
		"items":       len(s.hashes),
		"failed":      s.stats.Failed,
	}).Info("Snapshot completed")

	return e.snapshots.GetByID(ctx, s.snapshot.ID)
}

// Fail marks the snapshot failed. It is a no-op once the session has ended.
func (s *Session) Fail(ctx context.Context, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.failLocked(ctx, reason)
}

func (s *Session) failLocked(ctx context.Context, reason error) {
	s.done = true
	metrics.SnapshotsTotal.WithLabelValues(s.snapshot.SourceType, string(models.SnapshotFailed)).Inc()

	ctx = context.WithoutCancel(ctx)
	mark := s.engine.snapshots.Fail
	if s.committed {
		mark = s.engine.snapshots.Withdraw
	}
	if err := mark(ctx, s.snapshot.ID, reason.Error()); err != nil {
		s.engine.logger.WithContext(ctx).WithError(err).Error("failed to mark snapshot failed")
		return
	}
	s.engine.logger.WithContext(ctx).WithError(reason).WithFields(map[string]any{
		"snapshot_id": s.snapshot.ID,
	}).Warn("Snapshot failed")
}
