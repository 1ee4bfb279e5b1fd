package source

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Field struct {
	Name  string
	Value any
}

// Projection is one normalized row keyed by column name. Fields keep reflection order,
// including when encoded as JSON.
type Projection struct {
	fields []Field
}

// NewProjection pairs names with values positionally and normalizes every value.
func NewProjection(names []string, values []any) (Projection, error) {
	if len(names) != len(values) {
		return Projection{}, fmt.Errorf("projection has %d names but %d values", len(names), len(values))
	}
	seen := make(map[string]struct{}, len(names))
	fields := make([]Field, 0, len(names))
	for i, name := range names {
		if _, dup := seen[name]; dup {
			return Projection{}, fmt.Errorf("duplicate column %q in projection", name)
		}
		seen[name] = struct{}{}
		fields = append(fields, Field{Name: name, Value: Normalize(values[i])})
	}
	return Projection{fields: fields}, nil
}

func (p Projection) Len() int { return len(p.fields) }

func (p Projection) Fields() []Field {
	out := make([]Field, len(p.fields))
	copy(out, p.fields)
	return out
}

func (p Projection) Keys() []string {
	keys := make([]string, 0, len(p.fields))
	for _, field := range p.fields {
		keys = append(keys, field.Name)
	}
	return keys
}

func (p Projection) Get(name string) (any, bool) {
	for _, field := range p.fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return nil, false
}

func (p Projection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range p.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", field.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the key order of the encoded object. Numbers decode as json.Number.
func (p *Projection) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("projection must be a JSON object")
	}

	fields := make([]Field, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected projection key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode column %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	p.fields = fields
	return nil
}
