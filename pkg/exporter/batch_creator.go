package exporter

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/config"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// BatchCreator groups un-batched signals into immutable batches under
// the configured count and attachment-size ceilings.
type BatchCreator struct {
	store  *storage.Store
	cfg    *config.Manager
	locker Locker
	time   util.TimeProvider
	ids    util.IdProvider
	log    *zap.Logger
}

// NewBatchCreator creates a batch creator.
func NewBatchCreator(store *storage.Store, cfg *config.Manager, locker Locker,
	timeProvider util.TimeProvider, ids util.IdProvider, log *zap.Logger) *BatchCreator {
	return &BatchCreator{
		store:  store,
		cfg:    cfg,
		locker: locker,
		time:   timeProvider,
		ids:    ids,
		log:    log,
	}
}

// Create forms one batch from pending signals. Returns nil with no
// error when there is nothing to batch. Concurrent creators are
// serialized by the locker; losing the race is not an error here, the
// caller simply gets nothing.
func (c *BatchCreator) Create(ctx context.Context) (*model.Batch, error) {
	release, err := c.locker.TryAcquire(ctx)
	if err != nil {
		if pkerrors.IsCode(err, pkerrors.CodeLockHeld) {
			c.log.Debug("batch creation skipped, lock held")
			return nil, nil
		}
		return nil, err
	}
	defer release()

	cfg := c.cfg.Get()
	eventIDs, spanIDs, err := c.store.UnbatchedSignals(ctx,
		cfg.Batching.MaxEventsInBatch, cfg.Batching.MaxAttachmentSizeBytes)
	if err != nil {
		return nil, err
	}
	if len(eventIDs) == 0 && len(spanIDs) == 0 {
		return nil, nil
	}

	batch := &model.Batch{
		ID:        c.ids.UUID(),
		EventIDs:  eventIDs,
		SpanIDs:   spanIDs,
		CreatedAt: c.time.Now(),
	}
	if err := c.store.InsertBatch(ctx, batch); err != nil {
		return nil, err
	}

	c.log.Info("batch created",
		zap.String("batch_id", batch.ID),
		zap.Int("events", len(eventIDs)),
		zap.Int("spans", len(spanIDs)))
	return batch, nil
}

// CreateForSession forms a batch of every pending event in one session,
// ignoring the usual size ceilings. Used on the crash path.
func (c *BatchCreator) CreateForSession(ctx context.Context, sessionID string) (*model.Batch, error) {
	release, err := c.locker.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	eventIDs, err := c.store.UnbatchedSessionEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(eventIDs) == 0 {
		return nil, nil
	}

	batch := &model.Batch{
		ID:        c.ids.UUID(),
		EventIDs:  eventIDs,
		CreatedAt: c.time.Now(),
	}
	if err := c.store.InsertBatch(ctx, batch); err != nil {
		return nil, err
	}

	c.log.Info("session batch created",
		zap.String("batch_id", batch.ID),
		zap.String("session_id", sessionID),
		zap.Int("events", len(eventIDs)))
	return batch, nil
}
