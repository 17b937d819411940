// Package util provides small shared helpers: time and id providers.
package util

import (
	"sync"
	"time"
)

// ISO8601Format is the timestamp layout used on the wire.
const ISO8601Format = "2006-01-02T15:04:05.000Z"

// TimeProvider supplies wall-clock and monotonic readings. All pipeline
// components read time through this interface so tests can control it.
type TimeProvider interface {
	// Now returns the current wall-clock time in milliseconds since epoch.
	Now() int64

	// UptimeMillis returns a monotonic reading unaffected by clock skew.
	UptimeMillis() int64

	// ISO8601 formats an epoch-millis timestamp for the wire.
	ISO8601(millis int64) string
}

type systemTimeProvider struct {
	start time.Time
}

// NewTimeProvider returns a TimeProvider backed by the system clock.
func NewTimeProvider() TimeProvider {
	return &systemTimeProvider{start: time.Now()}
}

func (p *systemTimeProvider) Now() int64 {
	return time.Now().UnixMilli()
}

func (p *systemTimeProvider) UptimeMillis() int64 {
	// time.Since uses the monotonic clock carried by p.start.
	return time.Since(p.start).Milliseconds()
}

func (p *systemTimeProvider) ISO8601(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(ISO8601Format)
}

// FakeTimeProvider is a controllable TimeProvider for tests.
type FakeTimeProvider struct {
	mu     sync.Mutex
	now    int64
	uptime int64
}

// NewFakeTimeProvider creates a fake clock starting at the given
// epoch-millis timestamp.
func NewFakeTimeProvider(now int64) *FakeTimeProvider {
	return &FakeTimeProvider{now: now, uptime: 0}
}

// Now returns the configured wall-clock time.
func (p *FakeTimeProvider) Now() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// UptimeMillis returns the configured monotonic time.
func (p *FakeTimeProvider) UptimeMillis() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uptime
}

// ISO8601 formats an epoch-millis timestamp for the wire.
func (p *FakeTimeProvider) ISO8601(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(ISO8601Format)
}

// Advance moves both clocks forward by d.
func (p *FakeTimeProvider) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now += d.Milliseconds()
	p.uptime += d.Milliseconds()
}

// SetNow pins the wall clock to the given epoch-millis timestamp.
func (p *FakeTimeProvider) SetNow(millis int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = millis
}
