// Package archive keeps a copy of every exported batch in object
// storage. Archival runs after a successful upload and before the
// batch rows are deleted; a failed archive never blocks or fails the
// export itself.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/storage"
)

// Backend writes one archived object.
type Backend interface {
	// Put stores body under key, overwriting any previous object.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
}

// blobConcurrency bounds parallel attachment uploads per batch.
const blobConcurrency = 4

// Archiver snapshots shipped batches through a Backend.
type Archiver struct {
	backend Backend
	store   *storage.Store
	log     *zap.Logger
}

// NewArchiver creates an archiver over the given backend.
func NewArchiver(backend Backend, store *storage.Store, log *zap.Logger) *Archiver {
	return &Archiver{backend: backend, store: store, log: log}
}

// OnExported archives the batch. It matches the exporter's post-upload
// hook signature and must run before the batch rows are deleted, while
// the packets are still queryable.
func (a *Archiver) OnExported(ctx context.Context, batch *model.Batch) {
	if err := a.archive(ctx, batch); err != nil {
		a.log.Warn("batch archive failed",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		return
	}
	a.log.Debug("batch archived",
		zap.String("batch_id", batch.ID),
		zap.Int("events", len(batch.EventIDs)),
		zap.Int("spans", len(batch.SpanIDs)))
}

func (a *Archiver) archive(ctx context.Context, batch *model.Batch) error {
	if len(batch.EventIDs) > 0 {
		packets, err := a.store.EventPackets(ctx, batch.EventIDs)
		if err != nil {
			return err
		}
		if err := a.putJSON(ctx, path.Join(batch.ID, "events.json"), packets); err != nil {
			return err
		}
		if err := a.archiveBlobs(ctx, batch); err != nil {
			return err
		}
	}

	if len(batch.SpanIDs) > 0 {
		packets, err := a.store.SpanPackets(ctx, batch.SpanIDs)
		if err != nil {
			return err
		}
		if err := a.putJSON(ctx, path.Join(batch.ID, "spans.json"), packets); err != nil {
			return err
		}
	}
	return nil
}

// archiveBlobs copies the batch's attachment files, a few at a time.
func (a *Archiver) archiveBlobs(ctx context.Context, batch *model.Batch) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(blobConcurrency)

	for _, eventID := range batch.EventIDs {
		atts, err := a.store.AttachmentPackets(ctx, eventID)
		if err != nil {
			return err
		}
		for _, att := range atts {
			if att.FilePath == "" {
				continue
			}
			att := att
			g.Go(func() error {
				return a.putFile(ctx, path.Join(batch.ID, "blobs", att.ID+"-"+att.Name), att.FilePath)
			})
		}
	}
	return g.Wait()
}

func (a *Archiver) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return a.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func (a *Archiver) putFile(ctx context.Context, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return a.backend.Put(ctx, key, f, info.Size())
}
