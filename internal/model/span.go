package model

// SpanStatus is the outcome recorded on a finished span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// CheckpointData is a named, timestamped marker recorded before a span ends.
type CheckpointData struct {
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
}

// SpanData is the immutable snapshot of a span taken when it ends. The
// parent is referenced by id only; parent and child may end independently.
type SpanData struct {
	Name             string
	TraceID          string
	SpanID           string
	ParentID         string
	SessionID        string
	StartTime        int64
	EndTime          int64
	Duration         int64
	Status           SpanStatus
	Attributes       map[string]AttributeValue
	UserDefinedAttrs map[string]AttributeValue
	Checkpoints      []CheckpointData
	HasEnded         bool
	Sampled          bool
}
