package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overgate-io/overgate/internal/config"
)

func TestCompileRules_Empty(t *testing.T) {
	rules, err := CompileRules(nil)
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestCompileRules_Valid(t *testing.T) {
	rules, err := CompileRules([]config.TransformRuleConfig{
		{Op: "rename", Field: "a", To: "b"},
		{Op: "coerce", Field: "age", Type: "int"},
		{Op: "default", Field: "page", Value: 1},
		{Op: "validate", Field: "name", MaxLength: 64},
		{Op: "validate", Field: "email", Pattern: `@`},
		{Op: "format", Field: "createdAt", Format: "date", Layout: "2006-01-02"},
		{Op: "format", Field: "total", Format: "currency", Symbol: "$"},
		{Op: "filter", Allow: []string{"id", "name"}},
	})
	require.NoError(t, err)
	require.Len(t, rules, 8)

	assert.NotNil(t, rules[4].Pattern, "pattern should be compiled")
	assert.Equal(t, 2, rules[6].Decimals, "currency decimals should default to 2")
}

func TestCompileRules_DateLayoutDefault(t *testing.T) {
	rules, err := CompileRules([]config.TransformRuleConfig{
		{Op: "format", Field: "ts", Format: "date"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rules[0].Layout)
}

func TestCompileRules_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TransformRuleConfig
	}{
		{"unknown op", config.TransformRuleConfig{Op: "explode", Field: "a"}},
		{"rename without to", config.TransformRuleConfig{Op: "rename", Field: "a"}},
		{"rename without field", config.TransformRuleConfig{Op: "rename", To: "b"}},
		{"coerce unknown type", config.TransformRuleConfig{Op: "coerce", Field: "a", Type: "bool"}},
		{"default without value", config.TransformRuleConfig{Op: "default", Field: "a"}},
		{"validate without constraint", config.TransformRuleConfig{Op: "validate", Field: "a"}},
		{"validate bad pattern", config.TransformRuleConfig{Op: "validate", Field: "a", Pattern: "["}},
		{"format unknown", config.TransformRuleConfig{Op: "format", Field: "a", Format: "percent"}},
		{"filter without lists", config.TransformRuleConfig{Op: "filter"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRules([]config.TransformRuleConfig{tt.cfg})
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	err := &ValidationError{Field: "name", Reason: "too long"}

	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "too long")
}

func TestDeepCopyMap(t *testing.T) {
	original := map[string]interface{}{
		"user": map[string]interface{}{"name": "ada"},
		"tags": []interface{}{"a", "b"},
	}

	copied := deepCopyMap(original)
	copied["user"].(map[string]interface{})["name"] = "grace"
	copied["tags"].([]interface{})[0] = "z"

	assert.Equal(t, "ada", original["user"].(map[string]interface{})["name"])
	assert.Equal(t, "a", original["tags"].([]interface{})[0])
}
