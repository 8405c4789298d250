package klv

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// Field is one decoded KLV item.
type Field struct {
	Name string
	Kind Kind
	// Tag is the integer key of a local set item; Label is the key of a
	// universal set item.
	Tag   uint64
	Label []byte
	// Raw is the undecoded value.
	Raw []byte
	// Value is uint64, int64, string, []byte, float64 or *Set according to
	// Kind. It is nil for an IEFP item carrying the error indicator.
	Value any
	// Offset and Size locate the whole item, key and length included,
	// within the decoded input.
	Offset int
	Size   int
}

// Set is a decoded KLV set with its fields in wire order.
type Set struct {
	Fields []Field
}

// Get returns the first field named name.
func (s *Set) Get(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether a field named name was decoded.
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Unsigned returns the value of an unsigned integer field.
func (s *Set) Unsigned(name string) (uint64, bool) {
	f, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(uint64)
	return v, ok
}

// Signed returns the value of a signed integer field.
func (s *Set) Signed(name string) (int64, bool) {
	f, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(int64)
	return v, ok
}

// Text returns the value of a string field.
func (s *Set) Text(name string) (string, bool) {
	f, ok := s.Get(name)
	if !ok {
		return "", false
	}
	v, ok := f.Value.(string)
	return v, ok
}

// Float returns the value of an IEFP field. It reports false for the
// error indicator.
func (s *Set) Float(name string) (float64, bool) {
	f, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	v, ok := f.Value.(float64)
	return v, ok
}

// Nested returns the value of a local set field.
func (s *Set) Nested(name string) (*Set, bool) {
	f, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	v, ok := f.Value.(*Set)
	return v, ok
}

// MarshalJSON encodes the set as an object keyed by field name, in wire
// order. Byte values are hex encoded.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')

		var v any = f.Value
		if b, ok := f.Value.([]byte); ok {
			v = hex.EncodeToString(b)
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
