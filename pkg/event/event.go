package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldKind discriminates the value stored in a FieldValue.
type FieldKind int

const (
	KindNull FieldKind = iota
	KindText
	KindInt
	KindFloat
	KindBool
)

// FieldValue is a tagged event field value. On the wire it is the plain
// JSON value (string, number, bool or null); integers round-trip without
// a decimal point.
type FieldValue struct {
	Kind  FieldKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

func Text(s string) FieldValue { return FieldValue{Kind: KindText, Str: s} }
func Int(i int64) FieldValue   { return FieldValue{Kind: KindInt, Int: i} }
func Float(f float64) FieldValue {
	return FieldValue{Kind: KindFloat, Float: f}
}
func Bool(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }
func Null() FieldValue       { return FieldValue{Kind: KindNull} }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = FieldValue{Kind: KindNull}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = FieldValue{Kind: KindText, Str: s}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = FieldValue{Kind: KindBool, Bool: b}
		return nil
	default:
		if !strings.ContainsAny(trimmed, ".eE") {
			var i int64
			if err := json.Unmarshal(data, &i); err == nil {
				*v = FieldValue{Kind: KindInt, Int: i}
				return nil
			}
		}
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("unsupported field value %q", trimmed)
		}
		*v = FieldValue{Kind: KindFloat, Float: f}
		return nil
	}
}

// AsFloat converts numeric and bool values to float64.
func (v FieldValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsText returns the string content of a text value.
func (v FieldValue) AsText() (string, bool) {
	if v.Kind != KindText {
		return "", false
	}
	return v.Str, true
}

// Event is a single timestamped domain event. Timestamps are stored with
// millisecond precision as epoch millis on the wire.
type Event struct {
	ID        string                `json:"id"`
	Timestamp time.Time             `json:"-"`
	EventType string                `json:"event_type"`
	Fields    map[string]FieldValue `json:"fields,omitempty"`
}

type eventWire struct {
	ID          string                `json:"id"`
	TimestampMs int64                 `json:"timestamp"`
	EventType   string                `json:"event_type"`
	Fields      map[string]FieldValue `json:"fields,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventWire{
		ID:          e.ID,
		TimestampMs: e.Timestamp.UnixMilli(),
		EventType:   e.EventType,
		Fields:      e.Fields,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.ID = w.ID
	e.Timestamp = time.UnixMilli(w.TimestampMs).UTC()
	e.EventType = w.EventType
	e.Fields = w.Fields
	return nil
}

// New creates an event with a fresh id and the timestamp truncated to
// millisecond precision.
func New(eventType string, ts time.Time, fields map[string]FieldValue) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		EventType: eventType,
		Fields:    fields,
	}
}

func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event type is required")
	}
	return nil
}

// Text returns the raw text content of a field.
func (e Event) Text(name string) (string, bool) {
	v, ok := e.Fields[name]
	if !ok {
		return "", false
	}
	return v.AsText()
}

// CleanedText returns the trimmed text content of a field, rejecting
// empty strings and the placeholder values "None", "null" and
// "undefined".
func (e Event) CleanedText(name string) (string, bool) {
	s, ok := e.Text(name)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	switch s {
	case "", "None", "null", "undefined":
		return "", false
	}
	return s, true
}

// Number returns the numeric content of a field.
func (e Event) Number(name string) (float64, bool) {
	v, ok := e.Fields[name]
	if !ok {
		return 0, false
	}
	return v.AsFloat()
}
