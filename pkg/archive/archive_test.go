package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/storage"
)

func archiveFixture(t *testing.T) (*Archiver, *storage.Store, *storage.FileStore, string) {
	t.Helper()

	dir := t.TempDir()
	log := zap.NewNop()

	store, err := storage.NewStore(":memory:", log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	files, err := storage.NewFileStore(filepath.Join(dir, "files"), log)
	if err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(dir, "archive")
	backend, err := NewLocalBackend(root)
	if err != nil {
		t.Fatal(err)
	}
	return NewArchiver(backend, store, log), store, files, root
}

func TestArchiverWritesEventsAndBlobs(t *testing.T) {
	a, store, files, root := archiveFixture(t)
	ctx := context.Background()

	blobPath, err := files.WriteAttachment("att-1", []byte("pngbytes"))
	if err != nil {
		t.Fatal(err)
	}
	ev := &model.Event{
		ID:              "ev-1",
		SessionID:       "sess-1",
		Type:            model.EventTypeCustom,
		Timestamp:       "2026-01-02T03:04:05.000Z",
		TimestampMillis: 1_000_000,
		Data:            json.RawMessage(`{"name":"tap"}`),
		Attachments: []model.Attachment{
			{ID: "att-1", Name: "shot.png", Type: "image/png", Path: blobPath},
		},
	}
	if err := store.PutEvent(ctx, ev, ""); err != nil {
		t.Fatal(err)
	}

	a.OnExported(ctx, &model.Batch{ID: "batch-1", EventIDs: []string{"ev-1"}})

	data, err := os.ReadFile(filepath.Join(root, "batch-1", "events.json"))
	if err != nil {
		t.Fatalf("events.json missing: %v", err)
	}
	if !strings.Contains(string(data), `"ev-1"`) {
		t.Errorf("archived events missing the event: %s", data)
	}

	blob, err := os.ReadFile(filepath.Join(root, "batch-1", "blobs", "att-1-shot.png"))
	if err != nil {
		t.Fatalf("archived blob missing: %v", err)
	}
	if string(blob) != "pngbytes" {
		t.Errorf("archived blob content = %q", blob)
	}
}

func TestArchiverWritesSpans(t *testing.T) {
	a, store, _, root := archiveFixture(t)
	ctx := context.Background()

	span := &model.SpanData{
		Name:      "load",
		TraceID:   "0123456789abcdef0123456789abcdef",
		SpanID:    "0123456789abcdef",
		SessionID: "sess-1",
		StartTime: 1_000_000,
		EndTime:   1_000_100,
		Duration:  100,
		Sampled:   true,
	}
	if err := store.PutSpan(ctx, span); err != nil {
		t.Fatal(err)
	}

	a.OnExported(ctx, &model.Batch{ID: "batch-1", SpanIDs: []string{"0123456789abcdef"}})

	data, err := os.ReadFile(filepath.Join(root, "batch-1", "spans.json"))
	if err != nil {
		t.Fatalf("spans.json missing: %v", err)
	}
	if !strings.Contains(string(data), `"load"`) {
		t.Errorf("archived spans missing the span: %s", data)
	}
}

func TestEmptyBatchArchivesNothing(t *testing.T) {
	a, _, _, root := archiveFixture(t)

	a.OnExported(context.Background(), &model.Batch{ID: "batch-x"})

	if _, err := os.Stat(filepath.Join(root, "batch-x")); !os.IsNotExist(err) {
		t.Errorf("empty batch should leave no archive entry, stat err = %v", err)
	}
}
