package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/config"
	"github.com/pulsekit/pulsekit/pkg/prefs"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/util"
)

type fixture struct {
	manager *Manager
	prefs   *prefs.Store
	clock   *util.FakeTimeProvider
	cfg     *config.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewStore(":memory:", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	prefStore, err := prefs.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	body := "app:\n  version: 1.0.0\n  build: \"100\"\nstorage:\n  root_dir: " + filepath.Join(dir, "data") + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.NewManager()
	if err := cfg.LoadPath(cfgPath); err != nil {
		t.Fatal(err)
	}

	clock := util.NewFakeTimeProvider(1_000_000)
	m := NewManager(store, prefStore, cfg, clock, util.NewSequentialIdProvider(), zap.NewNop())
	return &fixture{manager: m, prefs: prefStore, clock: clock, cfg: cfg}
}

func TestSessionIDIsStableWithinProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first == "" || first != second {
		t.Errorf("session id unstable: %q vs %q", first, second)
	}
}

func TestResumeRecentSessionWithinThreshold(t *testing.T) {
	f := newFixture(t)

	// Previous launch ended five minutes ago.
	if err := f.prefs.SaveRecentSession(&model.RecentSession{
		ID:            "recent-1",
		CreatedAt:     f.clock.Now() - 10*60*1000,
		LastEventTime: f.clock.Now() - 5*60*1000,
		AppVersion:    "1.0.0",
		AppBuild:      "100",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.manager.SessionID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "recent-1" {
		t.Errorf("session id = %q, want recent-1", id)
	}
}

func TestFreshSessionAfterIdleThreshold(t *testing.T) {
	f := newFixture(t)

	if err := f.prefs.SaveRecentSession(&model.RecentSession{
		ID:            "recent-1",
		CreatedAt:     f.clock.Now() - 60*60*1000,
		LastEventTime: f.clock.Now() - 25*60*1000, // past the 20m threshold
		AppVersion:    "1.0.0",
		AppBuild:      "100",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.manager.SessionID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "recent-1" {
		t.Error("expected a fresh session after idle threshold")
	}
}

func TestFreshSessionOnVersionChange(t *testing.T) {
	f := newFixture(t)

	if err := f.prefs.SaveRecentSession(&model.RecentSession{
		ID:            "recent-1",
		CreatedAt:     f.clock.Now() - 60_000,
		LastEventTime: f.clock.Now() - 30_000,
		AppVersion:    "0.9.0", // app updated since
		AppBuild:      "90",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.manager.SessionID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "recent-1" {
		t.Error("expected a fresh session after app update")
	}
}

func TestFreshSessionAfterCrash(t *testing.T) {
	f := newFixture(t)

	if err := f.prefs.SaveRecentSession(&model.RecentSession{
		ID:            "recent-1",
		CreatedAt:     f.clock.Now() - 60_000,
		LastEventTime: f.clock.Now() - 30_000,
		Crashed:       true,
		AppVersion:    "1.0.0",
		AppBuild:      "100",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.manager.SessionID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "recent-1" {
		t.Error("expected a fresh session after a crashed previous launch")
	}
}

func TestFreshSessionPastMaxDuration(t *testing.T) {
	f := newFixture(t)

	// Active recently, but the session itself is seven hours old.
	if err := f.prefs.SaveRecentSession(&model.RecentSession{
		ID:            "recent-1",
		CreatedAt:     f.clock.Now() - 7*60*60*1000,
		LastEventTime: f.clock.Now() - 60_000,
		AppVersion:    "1.0.0",
		AppBuild:      "100",
	}); err != nil {
		t.Fatal(err)
	}

	id, err := f.manager.SessionID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "recent-1" {
		t.Error("expected a fresh session past the maximum duration")
	}
}

func TestForegroundPastIdleThresholdRotatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// App naps in the background well past the 20 minute threshold.
	f.manager.OnAppBackground()
	f.clock.Advance(21 * time.Minute)
	if err := f.manager.OnAppForeground(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Errorf("session id %q survived a 21m background gap", first)
	}
}

func TestForegroundWithinThresholdKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}

	f.manager.OnAppBackground()
	f.clock.Advance(5 * time.Minute)
	if err := f.manager.OnAppForeground(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("session rotated after a short gap: %q vs %q", first, second)
	}
}

func TestForegroundPastMaxDurationRotatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Continuous activity cannot keep a session alive past six hours.
	for i := 0; i < 7; i++ {
		f.clock.Advance(time.Hour)
		f.manager.OnEvent(f.clock.Now())
	}
	if err := f.manager.OnAppForeground(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("expected a fresh session past the maximum duration")
	}
}

func TestMarkCrashedPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.manager.SessionID(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.MarkCrashed(ctx); err != nil {
		t.Fatal(err)
	}

	rs := f.prefs.RecentSession()
	if rs == nil || !rs.Crashed {
		t.Error("expected crashed flag in recent session snapshot")
	}
}

func TestOnEventExtendsIdleWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.manager.SessionID(ctx)
	if err != nil {
		t.Fatal(err)
	}

	f.manager.OnEvent(f.clock.Now())

	rs := f.prefs.RecentSession()
	if rs == nil || rs.LastEventTime != f.clock.Now() {
		t.Fatalf("recent session not bumped: %+v", rs)
	}
	if cur := f.manager.Current(); cur == nil || cur.ID != id {
		t.Errorf("current session = %+v", cur)
	}
}
