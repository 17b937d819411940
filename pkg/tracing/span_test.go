package tracing

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/util"
)

type captureSink struct {
	spans []*model.SpanData
}

func (c *captureSink) OnSpanEnded(data *model.SpanData) {
	c.spans = append(c.spans, data)
}

type alwaysSample struct{}

func (alwaysSample) ShouldSample() bool { return true }

type neverSample struct{}

func (neverSample) ShouldSample() bool { return false }

func newTestTracer(sink SpanSink, sampler Sampler, clock *util.FakeTimeProvider) *Tracer {
	return NewTracer(sink, sampler, clock, util.NewSequentialIdProvider(),
		func() string { return "sess-1" }, zap.NewNop())
}

func TestSpanLifecycle(t *testing.T) {
	sink := &captureSink{}
	clock := util.NewFakeTimeProvider(10_000)
	tr := newTestTracer(sink, alwaysSample{}, clock)

	span := tr.StartSpan("checkout")
	span.SetAttribute("screen", model.StringAttr("cart"))
	clock.Advance(250 * time.Millisecond)
	span.SetCheckpoint("items_loaded")
	clock.Advance(250 * time.Millisecond)
	span.SetStatus(model.SpanStatusOK)
	span.End()

	if len(sink.spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(sink.spans))
	}
	got := sink.spans[0]
	if got.Name != "checkout" || got.SessionID != "sess-1" {
		t.Errorf("unexpected span: %+v", got)
	}
	if got.Duration != 500 {
		t.Errorf("duration = %d, want 500", got.Duration)
	}
	if got.Status != model.SpanStatusOK {
		t.Errorf("status = %v", got.Status)
	}
	if len(got.Checkpoints) != 1 || got.Checkpoints[0].Name != "items_loaded" {
		t.Errorf("checkpoints = %+v", got.Checkpoints)
	}
}

func TestMutatorsNoOpAfterEnd(t *testing.T) {
	sink := &captureSink{}
	clock := util.NewFakeTimeProvider(10_000)
	tr := newTestTracer(sink, alwaysSample{}, clock)

	span := tr.StartSpan("work")
	span.End()
	span.SetStatus(model.SpanStatusError)
	span.SetAttribute("late", model.BoolAttr(true))
	span.SetCheckpoint("late")
	span.End() // second End is ignored

	if len(sink.spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(sink.spans))
	}
	got := sink.spans[0]
	if got.Status != model.SpanStatusUnset {
		t.Errorf("status mutated after end: %v", got.Status)
	}
	if len(got.Attributes) != 0 || len(got.Checkpoints) != 0 {
		t.Errorf("span mutated after end: %+v", got)
	}
}

func TestChildInheritsTraceAndSampling(t *testing.T) {
	sink := &captureSink{}
	clock := util.NewFakeTimeProvider(10_000)
	tr := newTestTracer(sink, neverSample{}, clock)

	parent := tr.StartSpan("parent")
	child := tr.StartChildSpan("child", parent)

	if child.TraceID() != parent.TraceID() {
		t.Error("child should share the parent's trace id")
	}
	if child.IsSampled() {
		t.Error("child should inherit the parent's negative sampling decision")
	}

	child.End()
	parent.End()
	if len(sink.spans) != 0 {
		t.Errorf("unsampled spans reached the sink: %d", len(sink.spans))
	}
}

func TestParentAndChildEndIndependently(t *testing.T) {
	sink := &captureSink{}
	clock := util.NewFakeTimeProvider(10_000)
	tr := newTestTracer(sink, alwaysSample{}, clock)

	parent := tr.StartSpan("parent")
	child := tr.StartChildSpan("child", parent)

	// Parent ends first; the child keeps going.
	parent.End()
	clock.Advance(time.Second)
	child.SetCheckpoint("still_running")
	child.End()

	if len(sink.spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(sink.spans))
	}
	if sink.spans[0].Name != "parent" || sink.spans[1].Name != "child" {
		t.Errorf("unexpected order: %s, %s", sink.spans[0].Name, sink.spans[1].Name)
	}
	if sink.spans[1].Duration != 1000 {
		t.Errorf("child duration = %d, want 1000", sink.spans[1].Duration)
	}
	if len(sink.spans[1].Checkpoints) != 1 {
		t.Errorf("child lost its post-parent checkpoint")
	}
}

func TestNegativeDurationDropped(t *testing.T) {
	sink := &captureSink{}
	clock := util.NewFakeTimeProvider(10_000)
	tr := newTestTracer(sink, alwaysSample{}, clock)

	span := tr.StartSpan("clock-skew")
	clock.SetNow(5_000) // wall clock went backwards
	span.End()

	if len(sink.spans) != 0 {
		t.Errorf("span with negative duration reached the sink")
	}
}

func TestRateSamplerBounds(t *testing.T) {
	always := NewRateSampler(1.0, 1)
	for i := 0; i < 100; i++ {
		if !always.ShouldSample() {
			t.Fatal("rate 1.0 must always sample")
		}
	}

	never := NewRateSampler(0.0, 1)
	for i := 0; i < 100; i++ {
		if never.ShouldSample() {
			t.Fatal("rate 0.0 must never sample")
		}
	}

	half := NewRateSampler(0.5, 42)
	sampled := 0
	for i := 0; i < 1000; i++ {
		if half.ShouldSample() {
			sampled++
		}
	}
	if sampled < 400 || sampled > 600 {
		t.Errorf("rate 0.5 sampled %d of 1000", sampled)
	}
}
