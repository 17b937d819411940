package exporter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/config"
	"github.com/pulsekit/pulsekit/pkg/storage"
)

// Exporter drives batches to the server. At most one export pass runs
// at a time; overlapping triggers are coalesced into no-ops so duplicate
// uploads cannot happen inside a process.
type Exporter struct {
	store   *storage.Store
	files   *storage.FileStore
	creator *BatchCreator
	client  *NetworkClient
	cfg     *config.Manager
	log     *zap.Logger

	// OnExported, when set, observes each successfully shipped batch
	// before its rows are deleted.
	OnExported func(ctx context.Context, batch *model.Batch)

	exporting atomic.Bool
}

// NewExporter creates an exporter.
func NewExporter(store *storage.Store, files *storage.FileStore, creator *BatchCreator,
	client *NetworkClient, cfg *config.Manager, log *zap.Logger) *Exporter {
	return &Exporter{
		store:   store,
		files:   files,
		creator: creator,
		client:  client,
		cfg:     cfg,
		log:     log,
	}
}

// Export ships all existing batches, then forms one batch from pending
// signals and ships that too. Returns immediately when another export
// pass is already running.
func (e *Exporter) Export(ctx context.Context) {
	if !e.exporting.CompareAndSwap(false, true) {
		e.log.Debug("export already in progress")
		return
	}
	defer e.exporting.Store(false)

	if !e.exportExisting(ctx) {
		return
	}

	batch, err := e.creator.Create(ctx)
	if err != nil {
		e.log.Warn("batch creation failed", zap.Error(err))
		return
	}
	if batch == nil {
		return
	}
	e.ship(ctx, batch)
}

// ExportExisting ships only batches already on disk. Used on startup to
// drain what previous launches left behind.
func (e *Exporter) ExportExisting(ctx context.Context) {
	if !e.exporting.CompareAndSwap(false, true) {
		return
	}
	defer e.exporting.Store(false)
	e.exportExisting(ctx)
}

// exportExisting ships batches oldest first, halting on the first
// retryable failure so ordering is preserved across attempts. Returns
// false when the pass should not continue to new batches.
func (e *Exporter) exportExisting(ctx context.Context) bool {
	batches, err := e.store.ExistingBatches(ctx)
	if err != nil {
		e.log.Warn("failed to list batches", zap.Error(err))
		return false
	}

	delay := time.Duration(e.cfg.Get().Batching.InterBatchDelayMs) * time.Millisecond
	for i, batch := range batches {
		if ctx.Err() != nil {
			return false
		}
		if i > 0 && delay > 0 {
			// Pacing keeps a long backlog from saturating the uplink.
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		if !e.ship(ctx, batch) {
			return false
		}
	}
	return true
}

// ship uploads one batch and applies the outcome. Returns false when
// exporting should halt.
func (e *Exporter) ship(ctx context.Context, batch *model.Batch) bool {
	status, err := e.client.UploadBatch(ctx, batch)
	if err != nil {
		e.log.Warn("upload error, batch kept",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		return false
	}

	switch status {
	case StatusSuccess:
		if e.OnExported != nil {
			e.OnExported(ctx, batch)
		}
		e.deleteBatch(ctx, batch.ID)
		return true
	case StatusClientError:
		// The server will never accept this batch; shedding it keeps
		// one poison batch from blocking everything behind it.
		e.log.Error("batch rejected, dropping",
			zap.String("batch_id", batch.ID))
		e.deleteBatch(ctx, batch.ID)
		return true
	default:
		e.log.Warn("batch kept for retry",
			zap.String("batch_id", batch.ID),
			zap.String("status", status.String()))
		return false
	}
}

func (e *Exporter) deleteBatch(ctx context.Context, batchID string) {
	paths, err := e.store.DeleteBatch(ctx, batchID)
	if err != nil {
		e.log.Warn("failed to delete batch",
			zap.String("batch_id", batchID),
			zap.Error(err))
		return
	}
	e.files.Remove(paths)
}
