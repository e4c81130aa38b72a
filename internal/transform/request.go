package transform

import (
	"fmt"
	"strconv"

	"github.com/overgate-io/overgate/internal/observability"
)

// RequestTransformer applies pre-forward rules to a request body:
// renaming, type coercion, default injection, and validation.
type RequestTransformer struct {
	rules  []Rule
	logger observability.Logger
}

// NewRequestTransformer creates a request transformer from compiled rules.
func NewRequestTransformer(rules []Rule, logger observability.Logger) *RequestTransformer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RequestTransformer{
		rules:  rules,
		logger: logger,
	}
}

// Apply runs all rules against the request body in order. A validation
// or coercion failure aborts with an error the caller maps to a 400; no
// rules is a pass-through.
func (t *RequestTransformer) Apply(data map[string]interface{}) (map[string]interface{}, error) {
	if len(t.rules) == 0 || data == nil {
		return data, nil
	}

	result := deepCopyMap(data)

	for _, rule := range t.rules {
		var err error
		switch rule.Op {
		case OpRename:
			renameField(result, rule.Field, rule.To)
		case OpCoerce:
			err = coerceField(result, rule)
		case OpDefault:
			if _, exists := result[rule.Field]; !exists {
				result[rule.Field] = rule.Value
			}
		case OpValidate:
			err = validateField(result, rule)
		case OpFormat, OpFilter:
			// Response-side rules; ignored on the request path.
		}
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func renameField(data map[string]interface{}, from, to string) {
	value, exists := data[from]
	if !exists {
		return
	}
	delete(data, from)
	data[to] = value
}

// coerceField converts the field value to the rule's target type. Absent
// fields are left alone; incompatible values fail the request.
func coerceField(data map[string]interface{}, rule Rule) error {
	value, exists := data[rule.Field]
	if !exists {
		return nil
	}

	coerced, err := coerceValue(value, rule.Type)
	if err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrCoercion, rule.Field, err)
	}

	data[rule.Field] = coerced
	return nil
}

func coerceValue(value interface{}, targetType string) (interface{}, error) {
	switch targetType {
	case TypeString:
		return coerceToString(value)
	case TypeInt:
		return coerceToInt(value)
	case TypeFloat:
		return coerceToFloat(value)
	}
	return nil, fmt.Errorf("unknown type %q", targetType)
}

func coerceToString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		// JSON numbers decode as float64; render integers without a
		// fractional part.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", value)
}

func coerceToInt(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot convert %T to int", value)
}

func coerceToFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot convert %T to float", value)
}

// validateField checks maxLength and pattern constraints on a string
// field. Absent fields pass; non-string values fail.
func validateField(data map[string]interface{}, rule Rule) error {
	value, exists := data[rule.Field]
	if !exists {
		return nil
	}

	s, ok := value.(string)
	if !ok {
		return &ValidationError{
			Field:  rule.Field,
			Reason: fmt.Sprintf("expected string, got %T", value),
		}
	}

	if rule.MaxLength > 0 && len(s) > rule.MaxLength {
		return &ValidationError{
			Field:  rule.Field,
			Reason: fmt.Sprintf("length %d exceeds maximum %d", len(s), rule.MaxLength),
		}
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
		return &ValidationError{
			Field:  rule.Field,
			Reason: "does not match pattern " + rule.Pattern.String(),
		}
	}

	return nil
}
