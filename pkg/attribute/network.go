package attribute

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
)

// NetworkState is a snapshot of connectivity at a point in time.
type NetworkState struct {
	Type       string // wifi | cellular | ethernet | unknown | none
	Generation string
}

// NetworkSource reads the current connectivity state. Reads may be slow,
// so the provider caches them off the capture path.
type NetworkSource interface {
	Read() NetworkState
}

// NetworkProvider serves connectivity attributes from a cache refreshed
// on a background ticker. Capture never blocks on a network read.
type NetworkProvider struct {
	source  NetworkSource
	refresh time.Duration
	log     *zap.Logger

	mu    sync.RWMutex
	state NetworkState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNetworkProvider creates a cached connectivity provider refreshing
// every 10 seconds. Call Stop when the pipeline shuts down.
func NewNetworkProvider(source NetworkSource, log *zap.Logger) *NetworkProvider {
	if source == nil {
		source = &interfaceSource{}
	}
	p := &NetworkProvider{
		source:  source,
		refresh: 10 * time.Second,
		log:     log,
		state:   source.Read(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
	return p
}

func (p *NetworkProvider) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := p.source.Read()
			p.mu.Lock()
			p.state = state
			p.mu.Unlock()
		}
	}
}

func (p *NetworkProvider) Name() string { return "network" }

func (p *NetworkProvider) AppendAttributes(sink map[string]model.AttributeValue) {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()

	putIfAbsent(sink, "network_type", model.StringAttr(state.Type))
	if state.Generation != "" {
		putIfAbsent(sink, "network_generation", model.StringAttr(state.Generation))
	}
}

// Stop halts the background refresh.
func (p *NetworkProvider) Stop() {
	p.cancel()
	p.wg.Wait()
}

// interfaceSource classifies connectivity from the host's interfaces.
type interfaceSource struct{}

func (s *interfaceSource) Read() NetworkState {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NetworkState{Type: "unknown"}
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		switch {
		case strings.HasPrefix(name, "wl"):
			return NetworkState{Type: "wifi"}
		case strings.HasPrefix(name, "ww"), strings.HasPrefix(name, "rmnet"):
			return NetworkState{Type: "cellular"}
		case strings.HasPrefix(name, "en"), strings.HasPrefix(name, "eth"):
			return NetworkState{Type: "ethernet"}
		}
	}
	return NetworkState{Type: "none"}
}
