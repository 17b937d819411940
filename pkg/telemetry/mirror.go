package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/tracing"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// Mirror sits between the tracer and the durable sink. Every ended span
// passes through to the next sink unchanged; sampled spans are also
// replayed into the OTLP pipeline with their original timestamps.
type Mirror struct {
	next     tracing.SpanSink
	exporter *OTLPExporter
	log      *zap.Logger
}

var _ tracing.SpanSink = (*Mirror)(nil)

// NewMirror wraps next with OTLP mirroring.
func NewMirror(next tracing.SpanSink, exporter *OTLPExporter, log *zap.Logger) *Mirror {
	return &Mirror{next: next, exporter: exporter, log: log}
}

// OnSpanEnded forwards the span and mirrors it to the collector.
func (m *Mirror) OnSpanEnded(data *model.SpanData) {
	m.next.OnSpanEnded(data)

	if !data.Sampled || !m.exporter.IsInitialized() {
		return
	}
	tracer := m.exporter.Tracer()
	if tracer == nil {
		return
	}

	// The span already ran; replay it with explicit timestamps so the
	// collector sees the true duration.
	_, span := tracer.Start(context.Background(), data.Name,
		trace.WithTimestamp(time.UnixMilli(data.StartTime)),
		trace.WithSpanKind(trace.SpanKindClient))

	span.SetAttributes(
		attribute.String("session.id", data.SessionID),
		attribute.String("capture.trace_id", data.TraceID),
		attribute.String("capture.span_id", data.SpanID),
	)
	if data.ParentID != "" {
		span.SetAttributes(attribute.String("capture.parent_id", data.ParentID))
	}
	for k, v := range data.Attributes {
		span.SetAttributes(toOTelAttribute(k, v))
	}
	for k, v := range data.UserDefinedAttrs {
		span.SetAttributes(toOTelAttribute(k, v))
	}
	for _, cp := range data.Checkpoints {
		if ts, ok := checkpointTime(cp); ok {
			span.AddEvent(cp.Name, trace.WithTimestamp(ts))
		} else {
			span.AddEvent(cp.Name)
		}
	}
	switch data.Status {
	case model.SpanStatusOK:
		span.SetStatus(codes.Ok, "")
	case model.SpanStatusError:
		span.SetStatus(codes.Error, "")
	}

	span.End(trace.WithTimestamp(time.UnixMilli(data.EndTime)))
}

// checkpointTime parses a checkpoint's wall-clock timestamp. A
// malformed timestamp drops the explicit time, not the checkpoint.
func checkpointTime(cp model.CheckpointData) (time.Time, bool) {
	ts, err := time.Parse(util.ISO8601Format, cp.Timestamp)
	return ts, err == nil
}

func toOTelAttribute(key string, v model.AttributeValue) attribute.KeyValue {
	switch v.Kind() {
	case model.AttrString:
		return attribute.String(key, v.StringValue())
	case model.AttrBool:
		return attribute.Bool(key, v.BoolValue())
	case model.AttrInt32, model.AttrInt64:
		return attribute.Int64(key, v.IntValue())
	case model.AttrFloat32, model.AttrFloat64:
		return attribute.Float64(key, v.FloatValue())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
