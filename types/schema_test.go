package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addSchema() FunctionSchema {
	return FunctionSchema{
		Name:     "add",
		Category: "arithmetic",
		Params: []ParamSpec{
			{Name: "x", Type: ParamInt, Required: true},
			{Name: "y", Type: ParamInt, Required: true},
		},
	}
}

func TestSchemaValidateMissingRequired(t *testing.T) {
	_, err := addSchema().Validate(AgentData{"x": IntValue(1)})
	require.NotNil(t, err)
	assert.Equal(t, ErrMissingParameter, err.Code)
	// The offending parameter must be named.
	assert.Contains(t, err.Message, `"y"`)
}

func TestSchemaValidateTypeMismatch(t *testing.T) {
	_, err := addSchema().Validate(AgentData{
		"x": IntValue(1),
		"y": StringValue("two"),
	})
	require.NotNil(t, err)
	assert.Equal(t, ErrTypeMismatch, err.Code)
	assert.Contains(t, err.Message, `"y"`)
}

func TestSchemaValidateDefaultsApplied(t *testing.T) {
	def := StringValue("asc")
	schema := FunctionSchema{
		Name: "sort",
		Params: []ParamSpec{
			{Name: "order", Type: ParamString, Default: &def, Enum: []string{"asc", "desc"}},
		},
	}

	out, err := schema.Validate(AgentData{})
	require.Nil(t, err)
	got, _ := out["order"].AsString()
	assert.Equal(t, "asc", got)
}

func TestSchemaValidateEnum(t *testing.T) {
	schema := FunctionSchema{
		Name: "sort",
		Params: []ParamSpec{
			{Name: "order", Type: ParamString, Required: true, Enum: []string{"asc", "desc"}},
		},
	}

	_, err := schema.Validate(AgentData{"order": StringValue("sideways")})
	require.NotNil(t, err)
	assert.Equal(t, ErrEnumViolation, err.Code)

	_, err = schema.Validate(AgentData{"order": StringValue("desc")})
	assert.Nil(t, err)
}

func TestSchemaValidateEmptyParams(t *testing.T) {
	schema := FunctionSchema{Name: "noop"}
	out, err := schema.Validate(nil)
	require.Nil(t, err)
	assert.Empty(t, out)
}

func TestSchemaValidateIntegralFloatAccepted(t *testing.T) {
	// JSON decoding may surface whole numbers as floats; they satisfy int params.
	out, err := addSchema().Validate(AgentData{
		"x": FloatValue(1),
		"y": FloatValue(2),
	})
	require.Nil(t, err)
	x, _ := out["x"].AsInt()
	assert.Equal(t, int64(1), x)
}
