package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DataKind discriminates the payload carried by an AgentDataValue.
type DataKind string

const (
	KindNone   DataKind = "none"
	KindString DataKind = "string"
	KindInt    DataKind = "int"
	KindFloat  DataKind = "float"
	KindBool   DataKind = "bool"
	KindArray  DataKind = "array"
	KindObject DataKind = "object"
)

// AgentDataValue is a tagged variant over the value kinds that may cross a
// function boundary. Exactly one payload field is meaningful, selected by Kind.
type AgentDataValue struct {
	Kind   DataKind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Array  []string
	Object AgentData
}

// AgentData is the uniform parameter/result container used by every function
// invocation and message payload.
type AgentData map[string]AgentDataValue

// NoneValue returns the absent value.
func NoneValue() AgentDataValue { return AgentDataValue{Kind: KindNone} }

// StringValue wraps a string.
func StringValue(s string) AgentDataValue { return AgentDataValue{Kind: KindString, Str: s} }

// IntValue wraps an integer.
func IntValue(i int64) AgentDataValue { return AgentDataValue{Kind: KindInt, Int: i} }

// FloatValue wraps a float.
func FloatValue(f float64) AgentDataValue { return AgentDataValue{Kind: KindFloat, Float: f} }

// BoolValue wraps a bool.
func BoolValue(b bool) AgentDataValue { return AgentDataValue{Kind: KindBool, Bool: b} }

// ArrayValue wraps a string slice.
func ArrayValue(a []string) AgentDataValue { return AgentDataValue{Kind: KindArray, Array: a} }

// ObjectValue wraps a nested AgentData mapping.
func ObjectValue(o AgentData) AgentDataValue { return AgentDataValue{Kind: KindObject, Object: o} }

// IsNone reports whether the value carries no payload.
func (v AgentDataValue) IsNone() bool { return v.Kind == KindNone || v.Kind == "" }

// AsString returns the string payload and whether the value is a string.
func (v AgentDataValue) AsString() (string, bool) {
	if v.Kind == KindString {
		return v.Str, true
	}
	return "", false
}

// AsInt returns the integer payload. Floats with an integral value convert.
func (v AgentDataValue) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindFloat:
		if v.Float == math.Trunc(v.Float) {
			return int64(v.Float), true
		}
	}
	return 0, false
}

// AsFloat returns the numeric payload widened to float64.
func (v AgentDataValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	}
	return 0, false
}

// AsBool returns the bool payload.
func (v AgentDataValue) AsBool() (bool, bool) {
	if v.Kind == KindBool {
		return v.Bool, true
	}
	return false, false
}

// AsArray returns the array payload.
func (v AgentDataValue) AsArray() ([]string, bool) {
	if v.Kind == KindArray {
		return v.Array, true
	}
	return nil, false
}

// AsObject returns the nested object payload.
func (v AgentDataValue) AsObject() (AgentData, bool) {
	if v.Kind == KindObject {
		return v.Object, true
	}
	return nil, false
}

// String renders the value for logs and error messages.
func (v AgentDataValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindArray:
		return fmt.Sprintf("%v", v.Array)
	case KindObject:
		return fmt.Sprintf("%v", map[string]AgentDataValue(v.Object))
	default:
		return "<none>"
	}
}

// MarshalJSON encodes the value as its plain JSON counterpart: strings as
// strings, ints/floats as numbers, arrays as string arrays, objects as nested
// maps, none as null. The discriminator is recovered on decode from the JSON
// type, so the wire format stays natural for API clients.
func (v AgentDataValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindArray:
		if v.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Array)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a plain JSON value into the tagged variant. JSON
// numbers decode to KindInt when integral and KindFloat otherwise. Arrays must
// be arrays of strings; anything else in an array is stringified.
func (v *AgentDataValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromJSONValue(raw)
	return nil
}

func fromJSONValue(raw any) AgentDataValue {
	switch t := raw.(type) {
	case nil:
		return NoneValue()
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i)
		}
		f, _ := t.Float64()
		return FloatValue(f)
	case []any:
		arr := make([]string, 0, len(t))
		for _, item := range t {
			arr = append(arr, fromJSONValue(item).String())
		}
		return ArrayValue(arr)
	case map[string]any:
		obj := make(AgentData, len(t))
		for k, item := range t {
			obj[k] = fromJSONValue(item)
		}
		return ObjectValue(obj)
	default:
		return StringValue(fmt.Sprintf("%v", t))
	}
}

// Clone returns a deep copy of the data map.
func (d AgentData) Clone() AgentData {
	if d == nil {
		return nil
	}
	out := make(AgentData, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of the value.
func (v AgentDataValue) Clone() AgentDataValue {
	switch v.Kind {
	case KindArray:
		v.Array = append([]string(nil), v.Array...)
	case KindObject:
		v.Object = v.Object.Clone()
	}
	return v
}
