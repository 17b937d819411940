package tracing

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// SpanSink receives ended spans.
type SpanSink interface {
	// OnSpanEnded is called once per span, after End.
	OnSpanEnded(data *model.SpanData)
}

// Sampler decides at trace start whether a trace exports.
type Sampler interface {
	ShouldSample() bool
}

// RateSampler samples a fixed fraction of traces.
type RateSampler struct {
	mu   sync.Mutex
	rate float64
	rng  *rand.Rand
}

// NewRateSampler creates a sampler selecting rate of traces, 0 to 1.
func NewRateSampler(rate float64, seed int64) *RateSampler {
	return &RateSampler{rate: rate, rng: rand.New(rand.NewSource(seed))}
}

// ShouldSample returns true for roughly rate of calls.
func (s *RateSampler) ShouldSample() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	return s.rng.Float64() < s.rate
}

// Tracer creates spans. The sampling decision is made once per trace;
// children inherit the root's decision through StartChildSpan.
type Tracer struct {
	sink      SpanSink
	sampler   Sampler
	time      util.TimeProvider
	ids       util.IdProvider
	sessionID func() string
	log       *zap.Logger
}

// NewTracer creates a tracer. sessionID is read per span so spans bind
// to the session active when they start.
func NewTracer(sink SpanSink, sampler Sampler, timeProvider util.TimeProvider,
	ids util.IdProvider, sessionID func() string, log *zap.Logger) *Tracer {
	return &Tracer{
		sink:      sink,
		sampler:   sampler,
		time:      timeProvider,
		ids:       ids,
		sessionID: sessionID,
		log:       log,
	}
}

// StartSpan starts a root span of a new trace.
func (t *Tracer) StartSpan(name string) *Span {
	return t.start(name, "", "", t.sampler.ShouldSample())
}

// StartChildSpan starts a span in the parent's trace, inheriting its
// sampling decision.
func (t *Tracer) StartChildSpan(name string, parent *Span) *Span {
	if parent == nil {
		return t.StartSpan(name)
	}
	return t.start(name, parent.TraceID(), parent.SpanID(), parent.IsSampled())
}

func (t *Tracer) start(name, traceID, parentID string, sampled bool) *Span {
	if traceID == "" {
		traceID = t.ids.TraceID()
	}
	return &Span{
		tracer: t,
		time:   t.time,
		data: model.SpanData{
			Name:      name,
			TraceID:   traceID,
			SpanID:    t.ids.SpanID(),
			ParentID:  parentID,
			SessionID: t.sessionID(),
			StartTime: t.time.Now(),
			Status:    model.SpanStatusUnset,
			Sampled:   sampled,
		},
	}
}

// onEnd validates an ended span and forwards it to the sink. Spans with
// negative durations are dropped; unsampled spans never reach the sink.
func (t *Tracer) onEnd(data *model.SpanData) {
	if data.Duration < 0 {
		t.log.Warn("dropping span with negative duration",
			zap.String("span", data.Name),
			zap.Int64("duration_ms", data.Duration))
		return
	}
	if !data.Sampled {
		return
	}
	t.sink.OnSpanEnded(data)
}
