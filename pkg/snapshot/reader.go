package snapshot

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bafix001/zibridge/internal/repositories"
	"github.com/Bafix001/zibridge/pkg/blob"
	"github.com/Bafix001/zibridge/pkg/database"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/hashing"
	"github.com/Bafix001/zibridge/pkg/models"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const readConcurrency = 8

// StoredEntity is a snapshot item with its decoded content.
type StoredEntity struct {
	ObjectType  string         `json:"object_type"`
	ObjectID    string         `json:"object_id"`
	ContentHash string         `json:"content_hash"`
	Properties  map[string]any `json:"properties"`
	Links       []string       `json:"links"`
}

func (e StoredEntity) Entity() models.Entity {
	return models.Entity{
		Type:       e.ObjectType,
		ID:         e.ObjectID,
		Properties: e.Properties,
		Links:      models.LinksFromTokens(e.Links),
	}
}

// Reader loads snapshot contents back from the blob store.
type Reader struct {
	snapshots *repositories.SnapshotRepository
	items     *repositories.SnapshotItemRepository
	blobs     blob.Store
	logger    ectologger.Logger
}

func NewReader(db database.DB, blobs blob.Store, logger ectologger.Logger) *Reader {
	return &Reader{
		snapshots: repositories.NewSnapshotRepository(db, logger),
		items:     repositories.NewSnapshotItemRepository(db, logger),
		blobs:     blobs,
		logger:    logger,
	}
}

// Load fetches a blob and checks that it still hashes to its key.
func (r *Reader) Load(ctx context.Context, hash string) (map[string]any, []string, error) {
	doc, err := r.blobs.Get(ctx, blob.Key(hash))
	if err != nil {
		return nil, nil, err
	}
	if !hashing.Verify(doc, hash) {
		return nil, nil, apperrors.Integrityf("blob %s does not match its hash", hash)
	}
	props, links, err := hashing.Decode(doc)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.KindIntegrityFailure, err, "blob %s is malformed", hash)
	}
	return props, links, nil
}

// Entities returns the decoded entities of one type in (type, id) order.
// Items whose blob is missing or corrupt are logged and reported as
// failures instead of failing the call.
func (r *Reader) Entities(ctx context.Context, snapshotID uuid.UUID, objectType string) ([]StoredEntity, []Failure, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Reader.Entities")
	defer span.End()

	items, err := r.items.ListBySnapshot(ctx, snapshotID, objectType)
	if err != nil {
		return nil, nil, err
	}

	loaded := make([]*StoredEntity, len(items))
	failed := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, it := range items {
		g.Go(func() error {
			props, links, err := r.Load(gctx, it.ContentHash)
			if err != nil {
				if apperrors.IsNotFound(err) || apperrors.IsIntegrityFailure(err) {
					failed[i] = err
					return nil
				}
				return err
			}
			loaded[i] = &StoredEntity{
				ObjectType:  it.ObjectType,
				ObjectID:    it.ObjectID,
				ContentHash: it.ContentHash,
				Properties:  props,
				Links:       links,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	entities := make([]StoredEntity, 0, len(items))
	var failures []Failure
	for i, it := range items {
		if failed[i] != nil {
			r.logger.WithContext(ctx).WithError(failed[i]).WithFields(map[string]any{
				"snapshot_id": snapshotID,
				"item":        it.Key(),
			}).Warn("Skipping unreadable snapshot item")
			failures = append(failures, Failure{ObjectType: it.ObjectType, ObjectID: it.ObjectID, Error: failed[i].Error()})
			continue
		}
		entities = append(entities, *loaded[i])
	}
	return entities, failures, nil
}

// Types lists the object types present in a snapshot.
func (r *Reader) Types(ctx context.Context, snapshotID uuid.UUID) ([]string, error) {
	return r.items.Types(ctx, snapshotID)
}

func (r *Reader) Snapshot(ctx context.Context, snapshotID uuid.UUID) (*models.Snapshot, error) {
	return r.snapshots.GetByID(ctx, snapshotID)
}
