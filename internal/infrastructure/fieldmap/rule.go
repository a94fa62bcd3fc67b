// Package fieldmap turns a lead into the payload shape of an integration
// using declarative mapping tables.
package fieldmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

// DateLayout is the output format of date rules
const DateLayout = "2006-01-02 15:04:05"

// RuleType is the "type" discriminator of a rule in configuration
type RuleType string

const (
	RuleAttr        RuleType = "attr"
	RuleCredentials RuleType = "credentials"
	RuleData        RuleType = "data"
	RuleTrans       RuleType = "trans"
	RuleConst       RuleType = "const"
	RuleDate        RuleType = "date"
	RuleAnswersText RuleType = "answers_text"
	RuleAnswersHTML RuleType = "answers_html"
	RuleComplex     RuleType = "complex"
	RuleDynamic     RuleType = "dynamic"
)

// Known reports whether t is one of the rule types above
func (t RuleType) Known() bool {
	switch t {
	case RuleAttr, RuleCredentials, RuleData, RuleTrans, RuleConst, RuleDate,
		RuleAnswersText, RuleAnswersHTML, RuleComplex, RuleDynamic:
		return true
	}
	return false
}

// Complex rule kinds
const (
	ComplexPhone      = "phone"
	ComplexEmail      = "email"
	ComplexMessengers = "messengers"
	ComplexAmoPhone   = "amo_phone"
	ComplexAmoEmail   = "amo_email"
)

// Scope is what a rule resolves against
type Scope struct {
	Lead        *lead.Lead
	Credentials integration.Credentials
	Translator  integration.Translator
	Locale      string
}

// Rule resolves one output value. ok=false omits the output key.
type Rule interface {
	Resolve(s Scope) (value any, ok bool)
}

// Attr reads a lead attribute
type Attr struct{ Key string }

func (r Attr) Resolve(s Scope) (any, bool) {
	return s.Lead.Attribute(r.Key)
}

// Credential reads a credential value, else the fallback
type Credential struct {
	Key      string
	Fallback any
}

func (r Credential) Resolve(s Scope) (any, bool) {
	if s.Credentials.Has(r.Key) {
		return s.Credentials[r.Key], true
	}
	return r.Fallback, r.Fallback != nil
}

// Data reads a dotted path from the lead data bag
type Data struct{ Key string }

func (r Data) Resolve(s Scope) (any, bool) {
	return lookupPath(s.Lead.Data, r.Key)
}

// Translate looks up a localized string, else the fallback
type Translate struct {
	Key      string
	Locale   string
	Fallback any
}

func (r Translate) Resolve(s Scope) (any, bool) {
	locale := r.Locale
	if locale == "" {
		locale = s.Locale
	}
	if s.Translator != nil && s.Translator.Has(r.Key, locale) {
		return s.Translator.Translate(r.Key, leadParams(s.Lead), locale), true
	}
	return r.Fallback, r.Fallback != nil
}

// Const is a literal value
type Const struct{ Value any }

func (r Const) Resolve(Scope) (any, bool) {
	return r.Value, r.Value != nil
}

// Date formats an attribute or data value as DateLayout
type Date struct{ Key string }

func (r Date) Resolve(s Scope) (any, bool) {
	v, ok := readKey(s.Lead, r.Key)
	if !ok {
		return nil, false
	}
	t, ok := toTime(v)
	if !ok {
		return nil, false
	}
	return t.Format(DateLayout), true
}

// Answers renders the quiz answers block
type Answers struct {
	Options RenderOptions
}

func (r Answers) Resolve(s Scope) (any, bool) {
	opts := r.Options
	if opts.Locale == "" {
		opts.Locale = s.Locale
	}
	text := RenderAnswers(s.Lead, s.Translator, opts)
	return text, text != ""
}

// Complex builds channel-specific composite values
type Complex struct {
	Kind string
	Key  string
}

func (r Complex) Resolve(s Scope) (any, bool) {
	switch r.Kind {
	case ComplexPhone:
		return multiField(attrString(s.Lead, r.keyOr("phone")), "WORK")
	case ComplexEmail:
		return multiField(attrString(s.Lead, r.keyOr("email")), "WORK")
	case ComplexMessengers:
		return messengerFields(s.Lead.Messengers)
	case ComplexAmoPhone:
		return amoField("PHONE", attrString(s.Lead, r.keyOr("phone")))
	case ComplexAmoEmail:
		return amoField("EMAIL", attrString(s.Lead, r.keyOr("email")))
	default:
		return nil, false
	}
}

func (r Complex) keyOr(def string) string {
	if r.Key != "" {
		return r.Key
	}
	return def
}

// Dynamic substitutes a value into a {value} template
type Dynamic struct {
	Key      string
	Template string
}

func (r Dynamic) Resolve(s Scope) (any, bool) {
	v, ok := readKey(s.Lead, r.Key)
	if !ok || v == nil {
		return nil, false
	}
	str := fmt.Sprint(v)
	if r.Template == "" {
		return str, true
	}
	return strings.ReplaceAll(r.Template, "{value}", str), true
}

// Unknown stands for a rule with an unrecognized type; it never resolves
type Unknown struct{ Type string }

func (Unknown) Resolve(Scope) (any, bool) { return nil, false }

func leadParams(l *lead.Lead) map[string]string {
	return map[string]string{
		"name":  l.Name,
		"email": l.Email,
		"phone": l.Phone,
		"id":    l.ID.String(),
	}
}

func attrString(l *lead.Lead, key string) string {
	v, ok := readKey(l, key)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// readKey resolves a lead attribute, falling back to the data bag
func readKey(l *lead.Lead, key string) (any, bool) {
	if v, ok := l.Attribute(key); ok {
		return v, true
	}
	return lookupPath(l.Data, key)
}

func lookupPath(data map[string]any, path string) (any, bool) {
	if path == "" || data == nil {
		return nil, false
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

var dateInputLayouts = []string{time.RFC3339Nano, time.RFC3339, DateLayout, "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range dateInputLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case float64:
		return time.Unix(int64(t), 0).UTC(), true
	case int64:
		return time.Unix(t, 0).UTC(), true
	}
	return time.Time{}, false
}

func multiField(value, valueType string) (any, bool) {
	if value == "" {
		return nil, false
	}
	return []any{map[string]any{"VALUE": value, "VALUE_TYPE": valueType}}, true
}

func messengerFields(messengers map[string]string) (any, bool) {
	if len(messengers) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(messengers))
	for k := range messengers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(messengers[k])
		if v == "" {
			continue
		}
		out = append(out, map[string]any{"VALUE": v, "VALUE_TYPE": strings.ToUpper(k)})
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func amoField(code, value string) (any, bool) {
	if value == "" {
		return nil, false
	}
	return map[string]any{
		"field_code": code,
		"values":     []any{map[string]any{"value": value, "enum_code": "WORK"}},
	}, true
}
