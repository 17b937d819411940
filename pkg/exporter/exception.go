package exporter

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/pkg/storage"
)

// ExceptionExporter ships a crashing session's pending events in one
// batch, immediately and synchronously. It bypasses the shared export
// guard because the process is about to die; server-side dedupe on the
// batch id absorbs any overlap with a periodic pass.
type ExceptionExporter struct {
	store   *storage.Store
	files   *storage.FileStore
	creator *BatchCreator
	client  *NetworkClient
	log     *zap.Logger
}

// NewExceptionExporter creates the crash-path exporter.
func NewExceptionExporter(store *storage.Store, files *storage.FileStore,
	creator *BatchCreator, client *NetworkClient, log *zap.Logger) *ExceptionExporter {
	return &ExceptionExporter{
		store:   store,
		files:   files,
		creator: creator,
		client:  client,
		log:     log,
	}
}

// Export batches the session's un-exported events and uploads them. On
// upload failure the batch stays on disk; the next launch finds it and
// retries.
func (e *ExceptionExporter) Export(ctx context.Context, sessionID string) {
	batch, err := e.creator.CreateForSession(ctx, sessionID)
	if err != nil {
		e.log.Error("crash batch creation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	if batch == nil {
		return
	}

	status, err := e.client.UploadBatch(ctx, batch)
	if err != nil {
		e.log.Warn("crash batch upload failed, kept for next launch",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		return
	}

	e.log.Info("crash batch uploaded",
		zap.String("batch_id", batch.ID),
		zap.String("status", status.String()))

	if status == StatusSuccess {
		if paths, err := e.store.DeleteBatch(ctx, batch.ID); err == nil {
			e.files.Remove(paths)
		}
	}
}
