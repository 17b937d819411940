package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/executor"
	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/attribute"
	"github.com/pulsekit/pulsekit/pkg/config"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
	"github.com/pulsekit/pulsekit/pkg/exporter"
	"github.com/pulsekit/pulsekit/pkg/prefs"
	"github.com/pulsekit/pulsekit/pkg/session"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/util"
)

type fixture struct {
	processor *SignalProcessor
	store     *storage.Store
	exec      *executor.Executor
	clock     *util.FakeTimeProvider
	uploads   *int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	log := zap.NewNop()

	uploads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	store, err := storage.NewStore(":memory:", log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	files, err := storage.NewFileStore(filepath.Join(dir, "files"), log)
	if err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
app:
  version: 1.0.0
  build: "100"
export:
  base_url: %s
  api_key: msrsh-test
ingest:
  max_inline_payload_bytes: 128
storage:
  root_dir: %s
`, srv.URL, filepath.Join(dir, "data"))
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewManager()
	if err := cfg.LoadPath(cfgPath); err != nil {
		t.Fatal(err)
	}

	prefStore, err := prefs.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	clock := util.NewFakeTimeProvider(1_000_000)
	ids := util.NewSequentialIdProvider()
	sessions := session.NewManager(store, prefStore, cfg, clock, ids, log)
	attrs := attribute.NewProcessor(log, attribute.NewAppProvider(attribute.AppInfo{
		Name: "demo", Version: "1.0.0", Build: "100",
	}))
	exec := executor.New("capture", log)
	t.Cleanup(func() { exec.Shutdown(context.Background()) })

	creator := exporter.NewBatchCreator(store, cfg, exporter.NewLocalLocker(), clock, ids, log)
	httpClient := exporter.NewHTTPClient(5*time.Second, 5, log)
	netClient := exporter.NewNetworkClient(httpClient, store, files, cfg, log)
	crash := exporter.NewExceptionExporter(store, files, creator, netClient, log)

	p := NewSignalProcessor(store, files, sessions, attrs, cfg, clock, ids, exec, crash, log)
	return &fixture{processor: p, store: store, exec: exec, clock: clock, uploads: &uploads}
}

// drain waits for queued persists to finish.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	if err := f.exec.SubmitWait(func(ctx context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func TestTrackPersistsEnrichedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.processor.Track(ctx, model.EventTypeCustom,
		map[string]string{"name": "tap"}, TrackOptions{UserTriggered: true})
	if err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	eventIDs, _, err := f.store.UnbatchedSignals(ctx, 10, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if len(eventIDs) != 1 {
		t.Fatalf("got %d events, want 1", len(eventIDs))
	}

	packets, err := f.store.EventPackets(ctx, eventIDs)
	if err != nil {
		t.Fatal(err)
	}
	p := packets[0]
	if p.SessionID == "" {
		t.Error("event not bound to a session")
	}
	if !p.UserTriggered {
		t.Error("user triggered flag lost")
	}
	if !strings.Contains(p.SerializedAttributes, "app_version") {
		t.Errorf("attributes not enriched: %s", p.SerializedAttributes)
	}
}

func TestEventsShareOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.processor.Track(ctx, model.EventTypeCustom,
			map[string]int{"n": i}, TrackOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	f.drain(t)

	eventIDs, _, err := f.store.UnbatchedSignals(ctx, 10, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	packets, err := f.store.EventPackets(ctx, eventIDs)
	if err != nil {
		t.Fatal(err)
	}
	first := packets[0].SessionID
	for _, p := range packets {
		if p.SessionID != first {
			t.Errorf("session ids differ: %q vs %q", first, p.SessionID)
		}
	}
}

func TestOversizedPayloadSpillsToFileStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	big := strings.Repeat("x", 4096) // past the 128 byte inline ceiling
	if err := f.processor.Track(ctx, model.EventTypeCustom,
		map[string]string{"blob": big}, TrackOptions{}); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	eventIDs, _, _ := f.store.UnbatchedSignals(ctx, 10, 1<<20)
	packets, err := f.store.EventPackets(ctx, eventIDs)
	if err != nil {
		t.Fatal(err)
	}
	p := packets[0]
	if p.SerializedDataFilePath == "" {
		t.Fatal("payload not spilled")
	}
	if p.SerializedData != "" {
		t.Error("spilled payload also inlined")
	}
	if _, err := os.Stat(p.SerializedDataFilePath); err != nil {
		t.Errorf("spill file missing: %v", err)
	}
}

func TestAttachmentBytesMoveToFileStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.processor.Track(ctx, model.EventTypeBugReport,
		map[string]string{"description": "broken"}, TrackOptions{
			Attachments: []model.Attachment{
				{Name: "screenshot.png", Type: "image/png", Bytes: []byte("pngbytes")},
			},
		})
	if err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	eventIDs, _, _ := f.store.UnbatchedSignals(ctx, 10, 1<<20)
	atts, err := f.store.AttachmentPackets(ctx, eventIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 {
		t.Fatalf("got %d attachments, want 1", len(atts))
	}
	if atts[0].FilePath == "" {
		t.Fatal("attachment bytes not written to the file store")
	}
	data, err := os.ReadFile(atts[0].FilePath)
	if err != nil || string(data) != "pngbytes" {
		t.Errorf("attachment content = %q, err %v", data, err)
	}
}

func TestUserAttrValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		attrs map[string]model.AttributeValue
	}{
		{"empty key", map[string]model.AttributeValue{"": model.BoolAttr(true)}},
		{"key too long", map[string]model.AttributeValue{
			strings.Repeat("k", 300): model.BoolAttr(true),
		}},
		{"value too long", map[string]model.AttributeValue{
			"key": model.StringAttr(strings.Repeat("v", 300)),
		}},
	}
	for _, tt := range tests {
		err := f.processor.Track(ctx, model.EventTypeCustom, nil, TrackOptions{UserAttrs: tt.attrs})
		if !pkerrors.IsCode(err, pkerrors.CodeInvalidAttribute) {
			t.Errorf("%s: err = %v, want invalid attribute", tt.name, err)
		}
	}

	// Valid attributes pass.
	err := f.processor.Track(ctx, model.EventTypeCustom, nil, TrackOptions{
		UserAttrs: map[string]model.AttributeValue{"plan": model.StringAttr("pro")},
	})
	if err != nil {
		t.Errorf("valid attrs rejected: %v", err)
	}
}

func TestTrackCrashPersistsAndExportsSynchronously(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A couple of normal events precede the crash.
	for i := 0; i < 2; i++ {
		if err := f.processor.Track(ctx, model.EventTypeCustom,
			map[string]int{"n": i}, TrackOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	err := f.processor.TrackCrash(ctx, map[string]string{
		"type":    "NullPointerException",
		"message": "boom",
	}, TrackOptions{ThreadName: "main"})
	if err != nil {
		t.Fatal(err)
	}

	// TrackCrash returns only after the upload attempt, so the upload
	// counter is already final.
	if *f.uploads != 1 {
		t.Errorf("uploads = %d, want 1", *f.uploads)
	}

	// All three events shipped and were deleted.
	stats, err := f.store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Events != 0 {
		t.Errorf("events left after crash export: %d", stats.Events)
	}
}

func TestOnSpanEndedPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Bind a session first, as the tracer would have.
	if err := f.processor.Track(ctx, model.EventTypeCustom, nil, TrackOptions{}); err != nil {
		t.Fatal(err)
	}
	f.drain(t)

	eventIDs, _, err := f.store.UnbatchedSignals(ctx, 1, 1<<20)
	if err != nil || len(eventIDs) == 0 {
		t.Fatalf("seed event missing: %v", err)
	}
	packets, err := f.store.EventPackets(ctx, eventIDs)
	if err != nil {
		t.Fatal(err)
	}
	sessID := packets[0].SessionID

	f.processor.OnSpanEnded(&model.SpanData{
		Name:      "load",
		TraceID:   "0123456789abcdef0123456789abcdef",
		SpanID:    "0123456789abcdef",
		SessionID: sessID,
		StartTime: f.clock.Now() - 100,
		EndTime:   f.clock.Now(),
		Duration:  100,
		Sampled:   true,
	})
	f.drain(t)

	_, spanIDs, err := f.store.UnbatchedSignals(ctx, 10, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if len(spanIDs) != 1 {
		t.Errorf("got %d spans, want 1", len(spanIDs))
	}
}
