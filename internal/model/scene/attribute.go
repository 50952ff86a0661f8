package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field is one labeled entry of a structured attribute.
type Field struct {
	Key   string
	Value string
}

// Attribute holds a character/scene value supplied at session creation. Clients
// may send either a plain string or a flat object; objects keep the key order
// they arrived in so rendered prompts are deterministic.
type Attribute struct {
	text   string
	fields []Field
}

// Text returns a plain string attribute.
func Text(s string) Attribute {
	return Attribute{text: s}
}

// Fields returns a structured attribute with the given ordered fields.
func Fields(fields ...Field) Attribute {
	return Attribute{fields: append([]Field(nil), fields...)}
}

// IsZero reports whether the attribute carries no value.
func (a Attribute) IsZero() bool {
	return strings.TrimSpace(a.text) == "" && len(a.fields) == 0
}

// Label renders the attribute for prompt text: plain strings pass through,
// structured values become "key: value key: value".
func (a Attribute) Label() string {
	if len(a.fields) == 0 {
		return a.text
	}
	return LabelString(a.fields)
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	return a.Label()
}

// LabelString joins fields as "key: value" pairs separated by a single space.
func LabelString(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return strings.TrimSpace(b.String())
}

// MarshalJSON writes plain attributes as strings and structured ones as objects
// in their original key order.
func (a Attribute) MarshalJSON() ([]byte, error) {
	if len(a.fields) == 0 {
		return json.Marshal(a.text)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range a.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a string, an object, an array or a scalar literal.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*a = Attribute{}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &a.text)
	case '{':
		fields, err := decodeObjectFields(trimmed)
		if err != nil {
			return err
		}
		a.fields = fields
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		for i, item := range items {
			a.fields = append(a.fields, Field{Key: strconv.Itoa(i), Value: valueText(item)})
		}
		return nil
	default:
		a.text = string(trimmed)
		return nil
	}
}

func decodeObjectFields(data []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, err
	}

	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected attribute key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields = append(fields, Field{Key: key, Value: valueText(raw)})
	}
	return fields, nil
}

func valueText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}
