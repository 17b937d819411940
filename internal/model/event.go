// Package model defines core data structures for PulseKit.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of payload an event carries.
type EventType string

const (
	EventTypeCustom        EventType = "custom"
	EventTypeException     EventType = "exception"
	EventTypeGestureClick  EventType = "gesture_click"
	EventTypeHTTP          EventType = "http"
	EventTypeLifecycleApp  EventType = "lifecycle_app"
	EventTypeColdLaunch    EventType = "cold_launch"
	EventTypeWarmLaunch    EventType = "warm_launch"
	EventTypeNetworkChange EventType = "network_change"
	EventTypeMemoryUsage   EventType = "memory_usage"
	EventTypeCPUUsage      EventType = "cpu_usage"
	EventTypeScreenView    EventType = "screen_view"
	EventTypeBugReport     EventType = "bug_report"
	EventTypeSessionStart  EventType = "session_start"
	EventTypeAppExit       EventType = "app_exit"
)

// Event is a single captured signal, enriched and bound to a session
// before it is persisted.
type Event struct {
	// ID is globally unique and immutable once created.
	ID string

	// SessionID binds the event to the session active at capture time.
	SessionID string

	// Type determines how Data is interpreted.
	Type EventType

	// Timestamp is the capture time formatted as ISO 8601 (UTC).
	Timestamp string

	// TimestampMillis is the capture time in milliseconds since epoch.
	TimestampMillis int64

	// UserTriggered marks events tracked through the user-facing API.
	UserTriggered bool

	// Data is the serialized typed payload.
	Data json.RawMessage

	// Attachments owned by this event.
	Attachments []Attachment

	// Attributes holds SDK-computed contextual attributes.
	Attributes map[string]AttributeValue

	// UserDefinedAttributes holds caller-supplied scalar attributes.
	UserDefinedAttributes map[string]AttributeValue

	// ThreadName records the goroutine/thread label at capture time.
	ThreadName string

	// Sampled controls whether the event is eligible for export.
	Sampled bool
}

// Attachment is a binary blob owned by an event. Either Bytes or Path
// is set, never both.
type Attachment struct {
	ID    string
	Name  string
	Type  string
	Bytes []byte
	Path  string
}

// AttrKind discriminates the active variant of an AttributeValue.
type AttrKind uint8

const (
	AttrString AttrKind = iota
	AttrBool
	AttrInt32
	AttrInt64
	AttrFloat32
	AttrFloat64
)

// AttributeValue is a closed sum type over the scalar attribute types.
// Exactly one variant is active; serialization round-trips without type
// coercion.
type AttributeValue struct {
	kind AttrKind
	s    string
	b    bool
	i    int64
	f    float64
}

// StringAttr returns a string-valued attribute.
func StringAttr(v string) AttributeValue { return AttributeValue{kind: AttrString, s: v} }

// BoolAttr returns a boolean-valued attribute.
func BoolAttr(v bool) AttributeValue { return AttributeValue{kind: AttrBool, b: v} }

// Int32Attr returns an int32-valued attribute.
func Int32Attr(v int32) AttributeValue { return AttributeValue{kind: AttrInt32, i: int64(v)} }

// Int64Attr returns an int64-valued attribute.
func Int64Attr(v int64) AttributeValue { return AttributeValue{kind: AttrInt64, i: v} }

// Float32Attr returns a float32-valued attribute.
func Float32Attr(v float32) AttributeValue { return AttributeValue{kind: AttrFloat32, f: float64(v)} }

// Float64Attr returns a float64-valued attribute.
func Float64Attr(v float64) AttributeValue { return AttributeValue{kind: AttrFloat64, f: v} }

// Kind returns the active variant.
func (v AttributeValue) Kind() AttrKind { return v.kind }

// StringValue returns the string variant's value.
func (v AttributeValue) StringValue() string { return v.s }

// BoolValue returns the boolean variant's value.
func (v AttributeValue) BoolValue() bool { return v.b }

// IntValue returns the integer variants' value.
func (v AttributeValue) IntValue() int64 { return v.i }

// FloatValue returns the float variants' value.
func (v AttributeValue) FloatValue() float64 { return v.f }

// MarshalJSON encodes the active variant without coercing its type.
func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case AttrString:
		return json.Marshal(v.s)
	case AttrBool:
		return json.Marshal(v.b)
	case AttrInt32, AttrInt64:
		return json.Marshal(v.i)
	case AttrFloat32, AttrFloat64:
		return json.Marshal(v.f)
	}
	return nil, fmt.Errorf("attribute value: unknown kind %d", v.kind)
}

// UnmarshalJSON decodes a scalar into the matching variant. Numeric
// strings stay strings; integers stay integers.
func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case string:
		*v = StringAttr(val)
	case bool:
		*v = BoolAttr(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			*v = Int64Attr(i)
			return nil
		}
		f, err := val.Float64()
		if err != nil {
			return err
		}
		*v = Float64Attr(f)
	default:
		return fmt.Errorf("attribute value: unsupported type %T", raw)
	}
	return nil
}

// String renders the active variant for logging.
func (v AttributeValue) String() string {
	switch v.kind {
	case AttrString:
		return v.s
	case AttrBool:
		return fmt.Sprintf("%t", v.b)
	case AttrInt32, AttrInt64:
		return fmt.Sprintf("%d", v.i)
	case AttrFloat32, AttrFloat64:
		return fmt.Sprintf("%g", v.f)
	}
	return ""
}
