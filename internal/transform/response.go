package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

// ResponseTransformer applies post-forward rules to a response body:
// field filtering, renaming, and typed formatting. Rules are applied
// recursively to nested objects.
type ResponseTransformer struct {
	rules  []Rule
	logger observability.Logger
}

// NewResponseTransformer creates a response transformer from compiled rules.
func NewResponseTransformer(rules []Rule, logger observability.Logger) *ResponseTransformer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ResponseTransformer{
		rules:  rules,
		logger: logger,
	}
}

// Apply runs all rules against the response body. Formatting failures
// leave the value unchanged rather than failing a response already paid
// for upstream; no rules is a pass-through.
func (t *ResponseTransformer) Apply(data map[string]interface{}) map[string]interface{} {
	if len(t.rules) == 0 || data == nil {
		return data
	}

	return t.applyToObject(deepCopyMap(data))
}

// applyToObject applies the rule set to one object, then recurses into
// the object values that survive filtering.
func (t *ResponseTransformer) applyToObject(obj map[string]interface{}) map[string]interface{} {
	for _, rule := range t.rules {
		switch rule.Op {
		case OpFilter:
			obj = filterFields(obj, rule)
		case OpRename:
			renameField(obj, rule.Field, rule.To)
		case OpFormat:
			t.formatField(obj, rule)
		case OpCoerce, OpDefault, OpValidate:
			// Request-side rules; ignored on the response path.
		}
	}

	for key, value := range obj {
		obj[key] = t.recurse(value)
	}

	return obj
}

func (t *ResponseTransformer) recurse(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return t.applyToObject(v)
	case []interface{}:
		for i, elem := range v {
			v[i] = t.recurse(elem)
		}
		return v
	default:
		return value
	}
}

// filterFields applies allow/deny lists. When an allow list is present
// only listed fields survive; the deny list then removes fields.
func filterFields(obj map[string]interface{}, rule Rule) map[string]interface{} {
	if len(rule.Allow) > 0 {
		filtered := make(map[string]interface{}, len(rule.Allow))
		for _, name := range rule.Allow {
			if value, exists := obj[name]; exists {
				filtered[name] = value
			}
		}
		obj = filtered
	}

	for _, name := range rule.Deny {
		delete(obj, name)
	}

	return obj
}

func (t *ResponseTransformer) formatField(obj map[string]interface{}, rule Rule) {
	value, exists := obj[rule.Field]
	if !exists {
		return
	}

	var (
		formatted string
		err       error
	)

	switch rule.Format {
	case FormatDate:
		formatted, err = formatDate(value, rule.Layout)
	case FormatCurrency:
		formatted, err = formatCurrency(value, rule.Symbol, rule.Decimals)
	default:
		return
	}

	if err != nil {
		t.logger.Debug("format rule skipped",
			observability.String("field", rule.Field),
			observability.String("format", rule.Format),
			observability.Error(err))
		return
	}

	obj[rule.Field] = formatted
}

// formatDate parses a timestamp value and renders it with the target
// layout. RFC 3339 strings and Unix-epoch numbers are accepted.
func formatDate(value interface{}, layout string) (string, error) {
	var ts time.Time

	switch v := value.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return "", fmt.Errorf("unparseable timestamp %q", v)
		}
		ts = parsed
	case float64:
		ts = time.Unix(int64(v), 0).UTC()
	case int64:
		ts = time.Unix(v, 0).UTC()
	default:
		return "", fmt.Errorf("cannot format %T as date", value)
	}

	return ts.Format(layout), nil
}

// formatCurrency renders a numeric value with a symbol prefix and fixed
// decimal places, e.g. 1234.5 -> "$1234.50".
func formatCurrency(value interface{}, symbol string, decimals int) (string, error) {
	var amount float64

	switch v := value.(type) {
	case float64:
		amount = v
	case int:
		amount = float64(v)
	case int64:
		amount = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return "", fmt.Errorf("unparseable amount %q", v)
		}
		amount = parsed
	default:
		return "", fmt.Errorf("cannot format %T as currency", value)
	}

	return symbol + strconv.FormatFloat(amount, 'f', decimals, 64), nil
}
