// Package transform provides declarative request and response body
// transformation for the gateway. Rules are compiled from configuration
// into a tagged variant type so application is exhaustive rather than
// driven by untyped map probing.
package transform

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/overgate-io/overgate/internal/config"
)

// Common transformation errors.
var (
	// ErrValidation indicates a request failed a validation rule.
	ErrValidation = errors.New("transformation validation failed")

	// ErrCoercion indicates a value could not be coerced to the target type.
	ErrCoercion = errors.New("type coercion failed")

	// ErrInvalidRule indicates a rule configuration is invalid.
	ErrInvalidRule = errors.New("invalid transformation rule")
)

// Op identifies a rule variant.
type Op string

// Rule operations.
const (
	OpRename   Op = "rename"
	OpCoerce   Op = "coerce"
	OpDefault  Op = "default"
	OpValidate Op = "validate"
	OpFormat   Op = "format"
	OpFilter   Op = "filter"
)

// Coercion target types.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
)

// Format variants.
const (
	FormatDate     = "date"
	FormatCurrency = "currency"
)

// Rule is one compiled transformation rule. Op selects the variant; the
// remaining fields parameterize it. Pattern regexps are compiled once at
// load time, not per request.
type Rule struct {
	Op    Op
	Field string

	// rename
	To string

	// coerce
	Type string

	// default
	Value interface{}

	// validate
	MaxLength int
	Pattern   *regexp.Regexp

	// format
	Format   string
	Layout   string
	Symbol   string
	Decimals int

	// filter
	Allow []string
	Deny  []string
}

// CompileRules compiles rule configurations, validating each variant's
// parameters. An empty input compiles to nil, which applies as a
// pass-through.
func CompileRules(configs []config.TransformRuleConfig) ([]Rule, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	rules := make([]Rule, 0, len(configs))
	for i, rc := range configs {
		rule, err := compileRule(rc)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func compileRule(rc config.TransformRuleConfig) (Rule, error) {
	rule := Rule{
		Op:        Op(rc.Op),
		Field:     rc.Field,
		To:        rc.To,
		Type:      rc.Type,
		Value:     rc.Value,
		MaxLength: rc.MaxLength,
		Format:    rc.Format,
		Layout:    rc.Layout,
		Symbol:    rc.Symbol,
		Decimals:  rc.Decimals,
		Allow:     rc.Allow,
		Deny:      rc.Deny,
	}

	switch rule.Op {
	case OpRename:
		if rule.Field == "" || rule.To == "" {
			return Rule{}, fmt.Errorf("%w: rename requires field and to", ErrInvalidRule)
		}

	case OpCoerce:
		if rule.Field == "" {
			return Rule{}, fmt.Errorf("%w: coerce requires field", ErrInvalidRule)
		}
		switch rule.Type {
		case TypeString, TypeInt, TypeFloat:
		default:
			return Rule{}, fmt.Errorf("%w: unknown coercion type %q", ErrInvalidRule, rule.Type)
		}

	case OpDefault:
		if rule.Field == "" || rule.Value == nil {
			return Rule{}, fmt.Errorf("%w: default requires field and value", ErrInvalidRule)
		}

	case OpValidate:
		if rule.Field == "" {
			return Rule{}, fmt.Errorf("%w: validate requires field", ErrInvalidRule)
		}
		if rule.MaxLength <= 0 && rc.Pattern == "" {
			return Rule{}, fmt.Errorf("%w: validate requires maxLength or pattern", ErrInvalidRule)
		}
		if rc.Pattern != "" {
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return Rule{}, fmt.Errorf("%w: bad pattern: %v", ErrInvalidRule, err)
			}
			rule.Pattern = re
		}

	case OpFormat:
		if rule.Field == "" {
			return Rule{}, fmt.Errorf("%w: format requires field", ErrInvalidRule)
		}
		switch rule.Format {
		case FormatDate:
			if rule.Layout == "" {
				rule.Layout = time.RFC3339
			}
		case FormatCurrency:
			if rule.Decimals <= 0 {
				rule.Decimals = 2
			}
		default:
			return Rule{}, fmt.Errorf("%w: unknown format %q", ErrInvalidRule, rule.Format)
		}

	case OpFilter:
		if len(rule.Allow) == 0 && len(rule.Deny) == 0 {
			return Rule{}, fmt.Errorf("%w: filter requires allow or deny", ErrInvalidRule)
		}

	default:
		return Rule{}, fmt.Errorf("%w: unknown op %q", ErrInvalidRule, rc.Op)
	}

	return rule, nil
}

// ValidationError describes which field failed which validation rule. It
// unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// deepCopyMap copies a decoded JSON object so transformation never
// mutates the caller's data.
func deepCopyMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}

	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		dst := make([]interface{}, len(val))
		for i, e := range val {
			dst[i] = deepCopyValue(e)
		}
		return dst
	default:
		return v
	}
}
