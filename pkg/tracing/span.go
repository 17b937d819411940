// Package tracing provides manual spans with checkpoints, bounded by
// the session and exported through the shared signal pipeline.
package tracing

import (
	"sync"

	"github.com/pulsekit/pulsekit/internal/model"
	"github.com/pulsekit/pulsekit/pkg/util"
)

// Span is a mutable in-flight span. All mutators become no-ops after
// End; the first End wins.
type Span struct {
	mu     sync.Mutex
	data   model.SpanData
	ended  bool
	tracer *Tracer
	time   util.TimeProvider
}

// Name returns the span's name.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Name
}

// TraceID returns the id of the trace this span belongs to.
func (s *Span) TraceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.TraceID
}

// SpanID returns the span's id.
func (s *Span) SpanID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SpanID
}

// IsSampled reports whether this span's trace was selected for export.
func (s *Span) IsSampled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Sampled
}

// SetStatus records the span outcome. No-op after End.
func (s *Span) SetStatus(status model.SpanStatus) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.data.Status = status
	}
	return s
}

// SetAttribute records an SDK attribute. No-op after End.
func (s *Span) SetAttribute(key string, value model.AttributeValue) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		if s.data.Attributes == nil {
			s.data.Attributes = make(map[string]model.AttributeValue)
		}
		s.data.Attributes[key] = value
	}
	return s
}

// SetUserAttribute records a caller-supplied attribute. No-op after End.
func (s *Span) SetUserAttribute(key string, value model.AttributeValue) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		if s.data.UserDefinedAttrs == nil {
			s.data.UserDefinedAttrs = make(map[string]model.AttributeValue)
		}
		s.data.UserDefinedAttrs[key] = value
	}
	return s
}

// SetCheckpoint records a named marker at the current time. No-op after
// End.
func (s *Span) SetCheckpoint(name string) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.data.Checkpoints = append(s.data.Checkpoints, model.CheckpointData{
			Name:      name,
			Timestamp: s.time.ISO8601(s.time.Now()),
		})
	}
	return s
}

// HasEnded reports whether End has been called.
func (s *Span) HasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// End finishes the span and hands its snapshot to the pipeline. Calls
// after the first are no-ops.
func (s *Span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.data.EndTime = s.time.Now()
	s.data.Duration = s.data.EndTime - s.data.StartTime
	s.data.HasEnded = true
	snapshot := s.data
	s.mu.Unlock()

	s.tracer.onEnd(&snapshot)
}
