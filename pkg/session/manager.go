// Package session manages the session lifecycle: lazy creation, reuse
// across quick relaunches, and crash marking.
package session

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/config"
	"github.com/pulsekit/pulsekit/pkg/prefs"
	"github.com/pulsekit/pulsekit/pkg/storage"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// Manager owns the current session id. The id is created lazily on
// first access so config fixes applied early in startup still count.
type Manager struct {
	store *storage.Store
	prefs *prefs.Store
	cfg   *config.Manager
	time  util.TimeProvider
	ids   util.IdProvider
	log   *zap.Logger

	mu             sync.Mutex
	current        *model.SessionRecord
	backgroundedAt int64
}

// NewManager creates a session manager. No session exists until the
// first call to SessionID.
func NewManager(store *storage.Store, prefStore *prefs.Store, cfg *config.Manager,
	timeProvider util.TimeProvider, ids util.IdProvider, log *zap.Logger) *Manager {
	return &Manager{
		store: store,
		prefs: prefStore,
		cfg:   cfg,
		time:  timeProvider,
		ids:   ids,
		log:   log,
	}
}

// SessionID returns the current session id, creating or resuming a
// session on first use. Safe for concurrent use; all callers in one
// process observe the same id.
func (m *Manager) SessionID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current.ID, nil
	}

	now := m.time.Now()
	cfg := m.cfg.Get()

	if recent := m.prefs.RecentSession(); recent != nil && m.canResume(recent, cfg, now) {
		m.current = &model.SessionRecord{
			ID:            recent.ID,
			CreatedAt:     recent.CreatedAt,
			LastEventTime: recent.LastEventTime,
			PID:           os.Getpid(),
			AppVersion:    recent.AppVersion,
			AppBuild:      recent.AppBuild,
		}
		m.log.Info("resumed recent session",
			zap.String("session_id", recent.ID),
			zap.Int64("idle_ms", now-recent.LastEventTime))
		return m.current.ID, nil
	}

	return m.startNewLocked(ctx, now, cfg)
}

// canResume decides whether the previous session continues. A version
// or build change always starts fresh, as does a crashed previous
// process, too much idle time, or a session past its maximum age.
func (m *Manager) canResume(recent *model.RecentSession, cfg *config.Config, now int64) bool {
	if recent.Crashed {
		return false
	}
	if recent.AppVersion != cfg.App.Version || recent.AppBuild != cfg.App.Build {
		return false
	}
	if recent.LastEventTime <= 0 {
		return false
	}
	if now-recent.LastEventTime >= cfg.Session.LastEventThresholdMs {
		return false
	}
	if now-recent.CreatedAt >= cfg.Session.MaxDurationMs {
		return false
	}
	return true
}

func (m *Manager) startNewLocked(ctx context.Context, now int64, cfg *config.Config) (string, error) {
	sess := &model.SessionRecord{
		ID:         m.ids.UUID(),
		CreatedAt:  now,
		PID:        os.Getpid(),
		AppVersion: cfg.App.Version,
		AppBuild:   cfg.App.Build,
	}

	if err := m.store.PutSession(ctx, sess); err != nil {
		return "", err
	}
	if err := m.prefs.SaveRecentSession(&model.RecentSession{
		ID:         sess.ID,
		CreatedAt:  sess.CreatedAt,
		AppVersion: sess.AppVersion,
		AppBuild:   sess.AppBuild,
	}); err != nil {
		// A failed snapshot only costs session resume on next launch.
		m.log.Warn("failed to persist recent session", zap.Error(err))
	}

	m.current = sess
	m.log.Info("started session", zap.String("session_id", sess.ID))
	return sess.ID, nil
}

// OnAppBackground records when the app left the foreground. The session
// keeps running; the timestamp feeds the rotation check on re-entry.
func (m *Manager) OnAppBackground() {
	m.mu.Lock()
	m.backgroundedAt = m.time.Now()
	m.mu.Unlock()
}

// OnAppForeground re-evaluates the current session on foreground
// re-entry. A session idle past the last-event threshold, or older than
// the maximum duration, is replaced with a fresh id; otherwise the
// existing one continues. No-op before the first session exists.
func (m *Manager) OnAppForeground(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}

	now := m.time.Now()
	cfg := m.cfg.Get()

	lastActivity := m.current.LastEventTime
	if lastActivity == 0 {
		lastActivity = m.current.CreatedAt
	}
	if m.backgroundedAt > lastActivity {
		lastActivity = m.backgroundedAt
	}

	if now-lastActivity < cfg.Session.LastEventThresholdMs &&
		now-m.current.CreatedAt < cfg.Session.MaxDurationMs {
		return nil
	}

	m.log.Info("session expired on foreground",
		zap.String("session_id", m.current.ID),
		zap.Int64("idle_ms", now-lastActivity))
	_, err := m.startNewLocked(ctx, now, cfg)
	return err
}

// OnEvent records signal activity, extending the session's idle window.
func (m *Manager) OnEvent(timestampMillis int64) {
	m.mu.Lock()
	if m.current != nil && timestampMillis > m.current.LastEventTime {
		m.current.LastEventTime = timestampMillis
	}
	m.mu.Unlock()

	if err := m.prefs.UpdateLastEventTime(timestampMillis); err != nil {
		m.log.Warn("failed to bump recent session", zap.Error(err))
	}
}

// MarkCrashed flags the current session in both durable stores so the
// next launch starts fresh and the backend sees the crash.
func (m *Manager) MarkCrashed(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if err := m.prefs.MarkCrashed(); err != nil {
		m.log.Warn("failed to mark recent session crashed", zap.Error(err))
	}
	if current == nil {
		return nil
	}
	return m.store.MarkSessionCrashed(ctx, current.ID)
}

// Current returns a copy of the active session record, or nil if no
// session has started.
func (m *Manager) Current() *model.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	copy := *m.current
	return &copy
}
