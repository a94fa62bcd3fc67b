package channel

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldValidator checks one credential value
type FieldValidator func(v any) bool

var validate = validator.New()

// Present accepts any non-empty value
func Present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	}
	return true
}

// URL accepts absolute http(s) URLs
func URL(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	s = strings.TrimSpace(s)
	if validate.Var(s, "required,url") != nil {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// PositiveNumber accepts numbers and numeric strings greater than zero
func PositiveNumber(v any) bool {
	d, ok := decimalOf(v)
	return ok && d.IsPositive()
}

// NonNegativeNumber accepts numbers and numeric strings of zero or more
func NonNegativeNumber(v any) bool {
	d, ok := decimalOf(v)
	return ok && !d.IsNegative()
}

// EmailList accepts a non-empty list of valid addresses. A string is split
// on commas.
func EmailList(v any) bool {
	list, ok := stringList(v)
	if !ok || len(list) == 0 {
		return false
	}
	for _, addr := range list {
		if validate.Var(addr, "required,email") != nil {
			return false
		}
	}
	return true
}

// Matches accepts strings matching re
func Matches(re *regexp.Regexp) FieldValidator {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
}

func decimalOf(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

func stringList(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		return val, true
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			out = append(out, strings.TrimSpace(part))
		}
		return out, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, true
	}
	return nil, false
}
