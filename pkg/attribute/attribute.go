// Package attribute enriches captured signals with ambient state such as
// device, app, installation, network, and power information. Providers
// are registered once and consulted on every capture; a provider failure
// never propagates past the capture boundary.
package attribute

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
)

// Provider contributes attributes to a signal at capture time.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// AppendAttributes writes this provider's attributes into sink.
	// Existing keys must not be overwritten.
	AppendAttributes(sink map[string]model.AttributeValue)
}

// Processor fans a signal's attribute map out to every registered
// provider.
type Processor struct {
	mu        sync.RWMutex
	providers []Provider
	log       *zap.Logger
}

// NewProcessor creates a processor with the given providers.
func NewProcessor(log *zap.Logger, providers ...Provider) *Processor {
	return &Processor{
		providers: providers,
		log:       log,
	}
}

// Register adds a provider. Registration after capture has begun is
// allowed; in-flight captures see the old set.
func (p *Processor) Register(provider Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers = append(p.providers, provider)
}

// AppendAttributes runs every provider against sink. A panicking or
// failing provider is logged and skipped; capture always proceeds with
// whatever attributes were collected.
func (p *Processor) AppendAttributes(sink map[string]model.AttributeValue) {
	p.mu.RLock()
	providers := p.providers
	p.mu.RUnlock()

	for _, provider := range providers {
		p.appendOne(provider, sink)
	}
}

func (p *Processor) appendOne(provider Provider, sink map[string]model.AttributeValue) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("attribute provider panicked",
				zap.String("provider", provider.Name()),
				zap.Any("panic", r))
		}
	}()
	provider.AppendAttributes(sink)
}

// putIfAbsent writes k=v into sink only when k is not already present.
// First writer wins so user-supplied values survive enrichment.
func putIfAbsent(sink map[string]model.AttributeValue, k string, v model.AttributeValue) {
	if _, ok := sink[k]; !ok {
		sink[k] = v
	}
}
