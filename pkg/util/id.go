package util

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// IdProvider generates unique identifiers for events, sessions, batches,
// spans, and traces.
type IdProvider interface {
	// UUID returns a random UUIDv4 string.
	UUID() string

	// SpanID returns a 16-hex-character span identifier.
	SpanID() string

	// TraceID returns a 32-hex-character trace identifier.
	TraceID() string
}

type randomIdProvider struct{}

// NewIdProvider returns an IdProvider backed by crypto/rand.
func NewIdProvider() IdProvider {
	return &randomIdProvider{}
}

func (p *randomIdProvider) UUID() string {
	return uuid.NewString()
}

func (p *randomIdProvider) SpanID() string {
	return randomHex(8)
}

func (p *randomIdProvider) TraceID() string {
	return randomHex(16)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	// rand.Read never returns a partial read without an error; a failure
	// here means the platform CSPRNG is broken, fall back to uuid bytes.
	if _, err := rand.Read(buf); err != nil {
		id := uuid.New()
		copy(buf, id[:])
	}
	return hex.EncodeToString(buf)
}

// SequentialIdProvider is a deterministic IdProvider for tests.
type SequentialIdProvider struct {
	mu   sync.Mutex
	next int
}

// NewSequentialIdProvider creates a deterministic id provider. Generated
// ids are distinct but predictable.
func NewSequentialIdProvider() *SequentialIdProvider {
	return &SequentialIdProvider{}
}

func (p *SequentialIdProvider) bump() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return p.next
}

// UUID returns a deterministic uuid-shaped id.
func (p *SequentialIdProvider) UUID() string {
	n := p.bump()
	base := uuid.MustParse("00000000-0000-4000-8000-000000000000")
	base[15] = byte(n)
	base[14] = byte(n >> 8)
	return base.String()
}

// SpanID returns a deterministic 16-hex span id.
func (p *SequentialIdProvider) SpanID() string {
	n := p.bump()
	buf := make([]byte, 8)
	buf[7] = byte(n)
	buf[6] = byte(n >> 8)
	return hex.EncodeToString(buf)
}

// TraceID returns a deterministic 32-hex trace id.
func (p *SequentialIdProvider) TraceID() string {
	n := p.bump()
	buf := make([]byte, 16)
	buf[15] = byte(n)
	buf[14] = byte(n >> 8)
	return hex.EncodeToString(buf)
}
