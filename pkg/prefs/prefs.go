// Package prefs provides small durable key-value state that must survive
// process restarts, most importantly the recent session snapshot.
package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pulsekit/pulsekit/internal/model"
	pkerrors "github.com/pulsekit/pulsekit/pkg/errors"
)

const recentSessionFile = "recent_session.json"

// Store persists preferences under a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a preference store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to create prefs directory").
			WithContext("dir", dir)
	}
	return &Store{dir: dir}, nil
}

// RecentSession returns the persisted recent session snapshot, or nil if
// none exists or the file is unreadable. A corrupt snapshot is treated
// as absent; the caller starts a fresh session.
func (s *Store) RecentSession() *model.RecentSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, recentSessionFile))
	if err != nil {
		return nil
	}

	var rs model.RecentSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil
	}
	if rs.ID == "" {
		return nil
	}
	return &rs
}

// SaveRecentSession writes the snapshot atomically via temp file + rename
// so a crash mid-write never leaves a truncated snapshot behind.
func (s *Store) SaveRecentSession(rs *model.RecentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rs)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to encode recent session")
	}

	return s.writeAtomic(recentSessionFile, data)
}

// UpdateLastEventTime bumps only the last-event timestamp on the stored
// snapshot, creating nothing if no snapshot exists.
func (s *Store) UpdateLastEventTime(millis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.readLocked()
	if err != nil || rs == nil {
		return err
	}
	rs.LastEventTime = millis

	data, err := json.Marshal(rs)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to encode recent session")
	}
	return s.writeAtomic(recentSessionFile, data)
}

// MarkCrashed flags the stored snapshot so the next launch knows the
// previous process died abnormally.
func (s *Store) MarkCrashed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.readLocked()
	if err != nil || rs == nil {
		return err
	}
	rs.Crashed = true

	data, err := json.Marshal(rs)
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to encode recent session")
	}
	return s.writeAtomic(recentSessionFile, data)
}

// Clear removes the recent session snapshot.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, recentSessionFile))
	if err != nil && !os.IsNotExist(err) {
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to clear recent session")
	}
	return nil
}

func (s *Store) readLocked() (*model.RecentSession, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, recentSessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to read recent session")
	}

	var rs model.RecentSession
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, nil
	}
	return &rs, nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to close temp file")
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return pkerrors.Wrap(err, pkerrors.CodeRecentSession, "failed to replace snapshot")
	}
	return nil
}
