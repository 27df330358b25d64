package types

// ParamType is the semantic type of a function parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamArray  ParamType = "array"
	ParamObject ParamType = "object"
)

// ParamSpec describes a single parameter of a function schema.
type ParamSpec struct {
	Name        string          `json:"name"`
	Type        ParamType       `json:"type"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
	Default     *AgentDataValue `json:"default,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
}

// FunctionSchema declares the callable surface of a function: its identity and
// an ordered parameter list.
type FunctionSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
}

// Validate checks params against the schema and returns the effective
// parameter map with defaults applied. Validation failures name the offending
// parameter so callers can surface precise errors without invoking the
// function.
func (s FunctionSchema) Validate(params AgentData) (AgentData, *Error) {
	out := make(AgentData, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, spec := range s.Params {
		v, present := out[spec.Name]
		if !present || v.IsNone() {
			if spec.Required {
				return nil, NewErrorf(ErrMissingParameter,
					"function %q: required parameter %q is missing", s.Name, spec.Name)
			}
			if spec.Default != nil {
				out[spec.Name] = *spec.Default
			}
			continue
		}
		if !kindMatches(spec.Type, v) {
			return nil, NewErrorf(ErrTypeMismatch,
				"function %q: parameter %q: expected %s, got %s", s.Name, spec.Name, spec.Type, v.Kind)
		}
		if len(spec.Enum) > 0 {
			if !enumContains(spec.Enum, v.String()) {
				return nil, NewErrorf(ErrEnumViolation,
					"function %q: parameter %q: value %q not in %v", s.Name, spec.Name, v.String(), spec.Enum)
			}
		}
	}
	return out, nil
}

func kindMatches(t ParamType, v AgentDataValue) bool {
	switch t {
	case ParamString:
		return v.Kind == KindString
	case ParamInt:
		_, ok := v.AsInt()
		return ok
	case ParamFloat:
		_, ok := v.AsFloat()
		return ok
	case ParamBool:
		return v.Kind == KindBool
	case ParamArray:
		return v.Kind == KindArray
	case ParamObject:
		return v.Kind == KindObject
	default:
		return false
	}
}

func enumContains(enum []string, value string) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}
