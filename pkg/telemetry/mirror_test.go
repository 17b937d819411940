package telemetry

import (
	"testing"

	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
)

type recordingSink struct {
	spans []*model.SpanData
}

func (s *recordingSink) OnSpanEnded(data *model.SpanData) {
	s.spans = append(s.spans, data)
}

func TestMirrorForwardsWithoutExporter(t *testing.T) {
	sink := &recordingSink{}
	m := NewMirror(sink, NewOTLPExporter(DefaultOTLPConfig("test")), zap.NewNop())

	m.OnSpanEnded(&model.SpanData{Name: "load", Sampled: true})
	m.OnSpanEnded(&model.SpanData{Name: "unsampled", Sampled: false})

	if len(sink.spans) != 2 {
		t.Fatalf("forwarded %d spans, want 2", len(sink.spans))
	}
	if sink.spans[0].Name != "load" || sink.spans[1].Name != "unsampled" {
		t.Errorf("spans forwarded out of order: %v", sink.spans)
	}
}

func TestCheckpointTimeParsing(t *testing.T) {
	ts, ok := checkpointTime(model.CheckpointData{
		Name:      "cart_loaded",
		Timestamp: "2026-01-02T03:04:05.250Z",
	})
	if !ok {
		t.Fatal("expected a parsed timestamp")
	}
	if got := ts.UnixMilli(); got != 1767323045250 {
		t.Errorf("UnixMilli = %d, want 1767323045250", got)
	}

	if _, ok := checkpointTime(model.CheckpointData{Timestamp: "not-a-time"}); ok {
		t.Error("malformed timestamp should not parse")
	}
}

func TestAttributeConversion(t *testing.T) {
	tests := []struct {
		name string
		in   model.AttributeValue
		want string
	}{
		{"string", model.StringAttr("pro"), "pro"},
		{"bool", model.BoolAttr(true), "true"},
		{"int", model.Int64Attr(42), "42"},
		{"float", model.Float64Attr(0.5), "0.5"},
	}
	for _, tt := range tests {
		kv := toOTelAttribute("k", tt.in)
		if got := kv.Value.Emit(); got != tt.want {
			t.Errorf("%s: emitted %q, want %q", tt.name, got, tt.want)
		}
	}
}
