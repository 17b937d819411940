package exporter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/pkg/config"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// Heartbeat triggers periodic export passes while the app is in the
// foreground, plus edge-triggered passes on lifecycle transitions.
// Batch creation is debounced on a monotonic clock so lifecycle churn
// cannot produce a burst of tiny batches.
type Heartbeat struct {
	exporter *Exporter
	cfg      *config.Manager
	time     util.TimeProvider
	log      *zap.Logger

	mu             sync.Mutex
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	lastPassUptime int64
	everTriggered  bool
}

// NewHeartbeat creates the periodic export driver.
func NewHeartbeat(exporter *Exporter, cfg *config.Manager,
	timeProvider util.TimeProvider, log *zap.Logger) *Heartbeat {
	return &Heartbeat{
		exporter: exporter,
		cfg:      cfg,
		time:     timeProvider,
		log:      log,
	}
}

// OnColdLaunch drains batches left behind by previous launches. Runs
// the pass synchronously on the caller's goroutine.
func (h *Heartbeat) OnColdLaunch(ctx context.Context) {
	h.exporter.ExportExisting(ctx)
}

// OnAppForeground starts the periodic ticker and runs a debounced pass.
func (h *Heartbeat) OnAppForeground(ctx context.Context) {
	h.start()
	h.maybeExport(ctx)
}

// OnAppBackground stops the ticker and runs a final debounced pass so
// signals are not stranded while the app naps.
func (h *Heartbeat) OnAppBackground(ctx context.Context) {
	h.stop()
	h.maybeExport(ctx)
}

// Stop halts the ticker without a final pass.
func (h *Heartbeat) Stop() {
	h.stop()
}

func (h *Heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.wg.Add(1)
	go h.loop(ctx)
}

func (h *Heartbeat) stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		h.wg.Wait()
	}
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer h.wg.Done()

	interval := time.Duration(h.cfg.Get().Batching.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.maybeExport(ctx)
		}
	}
}

// maybeExport runs a pass. The minimum-gap debounce covers only new
// batch creation; batches already on disk, such as one left by the
// crash path, ship on every trigger.
func (h *Heartbeat) maybeExport(ctx context.Context) {
	now := h.time.UptimeMillis()
	gap := h.cfg.Get().Batching.MinBatchCreationGapMs

	h.mu.Lock()
	since := now - h.lastPassUptime
	debounced := h.everTriggered && since < gap
	if !debounced {
		h.lastPassUptime = now
		h.everTriggered = true
	}
	h.mu.Unlock()

	if debounced {
		h.log.Debug("batch creation debounced",
			zap.Int64("since_last_ms", since))
		h.exporter.ExportExisting(ctx)
		return
	}
	h.exporter.Export(ctx)
}
