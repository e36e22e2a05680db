package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Field is one named value of a normalized event.
type Field struct {
	Name  string
	Value any
}

// Fields is an insertion-ordered field mapping. It marshals to a JSON object
// with keys in order.
type Fields []Field

// Get returns the value stored under name.
func (f Fields) Get(name string) (any, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

// Has reports whether name is present.
func (f Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Names returns the field names in order.
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}

// With returns a copy with name set to value. An existing field keeps its
// position; a new one is appended.
func (f Fields) With(name string, value any) Fields {
	out := make(Fields, len(f), len(f)+1)
	copy(out, f)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Field{Name: name, Value: value})
}

// Without returns a copy with every listed name removed.
func (f Fields) Without(names ...string) Fields {
	if len(names) == 0 {
		return f.clone()
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := make(Fields, 0, len(f))
	for _, field := range f {
		if _, ok := drop[field.Name]; ok {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Map flattens the fields into an unordered map.
func (f Fields) Map() map[string]any {
	m := make(map[string]any, len(f))
	for _, field := range f {
		m[field.Name] = field.Value
	}
	return m
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// MarshalJSON encodes the fields as an object, preserving order.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (f *Fields) UnmarshalJSON(data []byte) error {
	fields, err := DecodeFields(data)
	if err != nil {
		return err
	}
	*f = fields
	return nil
}

// DecodeFields decodes a JSON object into ordered fields. Nested values are
// decoded as plain Go values; numbers are kept as json.Number.
// Duplicate keys keep the position of the first occurrence and the last value.
func DecodeFields(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode fields: expected JSON object")
	}

	fields := Fields{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode fields: unexpected key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode fields: value for %q: %w", name, err)
		}
		fields = fields.With(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fields: trailing data after object")
	}
	return fields, nil
}

// Event is one normalized event. PairedItem ties the event back to its
// position in the request's transform output.
type Event struct {
	Fields     Fields `json:"json"`
	PairedItem int    `json:"pairedItem"`
}

// NewEvent wraps fields into an event.
func NewEvent(fields Fields) Event {
	return Event{Fields: fields}
}

// NewEvents wraps each field set into an event, indexed in order.
func NewEvents(items []Fields) []Event {
	events := make([]Event, len(items))
	for i, fields := range items {
		events[i] = Event{Fields: fields, PairedItem: i}
	}
	return events
}
