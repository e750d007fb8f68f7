package telemetry

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	KindScalar Kind = iota
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "scalar"
	}
}

// Value is one node of a decoded telemetry document.
// The set of implementations is closed: Scalar, Mapping and Sequence.
type Value interface {
	Kind() Kind
	sealed()
}

// Scalar holds a string, float64, bool or nil
type Scalar struct {
	v any
}

// Mapping is an object node keyed by field name
type Mapping map[string]Value

// Sequence is an ordered array node
type Sequence []Value

func (Scalar) Kind() Kind   { return KindScalar }
func (Mapping) Kind() Kind  { return KindMapping }
func (Sequence) Kind() Kind { return KindSequence }

func (Scalar) sealed()   {}
func (Mapping) sealed()  {}
func (Sequence) sealed() {}

// String creates a string scalar
func String(s string) Scalar { return Scalar{v: s} }

// Number creates a numeric scalar. All JSON numbers decode to float64.
func Number(f float64) Scalar { return Scalar{v: f} }

// Int creates a numeric scalar from an int
func Int(i int) Scalar { return Scalar{v: float64(i)} }

// Bool creates a boolean scalar
func Bool(b bool) Scalar { return Scalar{v: b} }

// Null creates the null scalar
func Null() Scalar { return Scalar{} }

// Interface returns the underlying Go value
func (s Scalar) Interface() any { return s.v }

// IsNull reports whether the scalar is JSON null
func (s Scalar) IsNull() bool { return s.v == nil }

// Str returns the scalar as a string if it holds one
func (s Scalar) Str() (string, bool) {
	str, ok := s.v.(string)
	return str, ok
}

// Int returns the scalar as an int if it holds a number
func (s Scalar) Int() (int, bool) {
	f, ok := s.v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (s Scalar) String() string {
	if s.v == nil {
		return "null"
	}
	return fmt.Sprint(s.v)
}

// Get returns the value stored under key
func (m Mapping) Get(key string) (Value, bool) {
	v, ok := m[key]
	return v, ok
}

// Lookup walks nested mappings along path
func (m Mapping) Lookup(path ...string) (Value, bool) {
	var cur Value = m
	for _, key := range path {
		next, ok := cur.(Mapping)
		if !ok {
			return nil, false
		}
		if cur, ok = next[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Str looks up path and returns it as a string
func (m Mapping) Str(path ...string) (string, bool) {
	v, ok := m.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(Scalar)
	if !ok {
		return "", false
	}
	return s.Str()
}

// Int looks up path and returns it as an int
func (m Mapping) Int(path ...string) (int, bool) {
	v, ok := m.Lookup(path...)
	if !ok {
		return 0, false
	}
	s, ok := v.(Scalar)
	if !ok {
		return 0, false
	}
	return s.Int()
}

// Mapping looks up path and returns it as a nested mapping
func (m Mapping) Mapping(path ...string) (Mapping, bool) {
	v, ok := m.Lookup(path...)
	if !ok {
		return nil, false
	}
	nested, ok := v.(Mapping)
	return nested, ok
}

// Sequence looks up path and returns it as a sequence
func (m Mapping) Sequence(path ...string) (Sequence, bool) {
	v, ok := m.Lookup(path...)
	if !ok {
		return nil, false
	}
	seq, ok := v.(Sequence)
	return seq, ok
}

// FromAny converts the output of a generic JSON decode into a Value
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Number(f), nil
	case map[string]any:
		m := make(Mapping, len(t))
		for k, v := range t {
			val, err := FromAny(v)
			if err != nil {
				return nil, err
			}
			m[k] = val
		}
		return m, nil
	case []any:
		seq := make(Sequence, 0, len(t))
		for _, v := range t {
			val, err := FromAny(v)
			if err != nil {
				return nil, err
			}
			seq = append(seq, val)
		}
		return seq, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", raw)
	}
}

// Decode parses a JSON document into a Value
func Decode(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry: %w", err)
	}
	return FromAny(raw)
}

// UnmarshalJSON decodes a JSON object
func (m *Mapping) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	mapping, ok := v.(Mapping)
	if !ok {
		return fmt.Errorf("expected object, got %s", v.Kind())
	}
	*m = mapping
	return nil
}

// UnmarshalJSON decodes a JSON array
func (s *Sequence) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	seq, ok := v.(Sequence)
	if !ok {
		return fmt.Errorf("expected array, got %s", v.Kind())
	}
	*s = seq
	return nil
}

// MarshalJSON encodes the scalar's underlying value
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.v)
}
