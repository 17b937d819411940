package model

// Batch is an immutable, server-bound grouping of stored signal ids.
// Membership is fixed at creation; the batch is deleted only after the
// transmitting call reports unambiguous success.
type Batch struct {
	ID        string
	EventIDs  []string
	SpanIDs   []string
	CreatedAt int64
}

// EventPacket is the export-ready projection of a stored event. Exactly
// one of SerializedData and SerializedDataFilePath is set: small payloads
// are inlined, large ones are streamed from disk.
type EventPacket struct {
	EventID                string
	SessionID              string
	Timestamp              string
	Type                   EventType
	UserTriggered          bool
	SerializedData         string
	SerializedDataFilePath string
	SerializedAttributes   string
	SerializedUserAttrs    string
	SerializedAttachments  string
}

// SpanPacket is the export-ready projection of a stored span.
type SpanPacket struct {
	SpanID           string                    `json:"span_id"`
	TraceID          string                    `json:"trace_id"`
	ParentID         string                    `json:"parent_id,omitempty"`
	SessionID        string                    `json:"session_id"`
	Name             string                    `json:"name"`
	Status           int                       `json:"status"`
	StartTime        string                    `json:"start_time"`
	EndTime          string                    `json:"end_time"`
	Duration         int64                     `json:"duration"`
	Checkpoints      []CheckpointData          `json:"checkpoints"`
	Attributes       map[string]AttributeValue `json:"attributes"`
	UserDefinedAttrs map[string]AttributeValue `json:"user_defined_attribute"`
}

// AttachmentPacket is the export-ready projection of a stored attachment.
// It is deleted in the same step that deletes its owning event.
type AttachmentPacket struct {
	ID       string
	EventID  string
	Name     string
	Type     string
	FilePath string
	Size     int64
}
