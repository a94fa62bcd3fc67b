package fieldmap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Node is a parsed mapping tree: either a rule leaf or a subtree of
// children. A subtree whose keys are all integers is rendered as an array.
type Node struct {
	Rule     Rule
	Children map[string]*Node
	IsList   bool

	order []string
}

// IsLeaf reports whether the node holds a rule
func (n *Node) IsLeaf() bool {
	return n.Rule != nil
}

// Keys returns the child keys in output order
func (n *Node) Keys() []string {
	return n.order
}

// Child walks a dotted section path
func (n *Node) Child(path string) (*Node, bool) {
	cur := n
	if path == "" {
		return cur, true
	}
	for _, part := range strings.Split(path, ".") {
		if cur == nil || cur.IsLeaf() {
			return nil, false
		}
		next, ok := cur.Children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// UnknownRuleFunc is called for every rule with an unrecognized type
type UnknownRuleFunc func(path, ruleType string)

// Parse converts a configuration table into a mapping tree. A map whose
// "type" entry names a known rule type is a rule. A map with an unknown type
// and nothing but rule options is reported as an unknown rule. Any other map,
// including payloads with a literal "type" output key, is a subtree.
func Parse(raw map[string]any, onUnknown UnknownRuleFunc) *Node {
	return parseTree("", raw, onUnknown)
}

func parseTree(path string, raw map[string]any, onUnknown UnknownRuleFunc) *Node {
	node := &Node{Children: make(map[string]*Node, len(raw))}
	for key, value := range raw {
		childPath := joinPath(path, key)
		m, ok := asMap(value)
		if !ok {
			// bare scalars are shorthand for const rules
			node.Children[key] = &Node{Rule: Const{Value: value}}
			continue
		}
		if t, ok := m["type"].(string); ok && (RuleType(t).Known() || onlyRuleOptions(m)) {
			node.Children[key] = &Node{Rule: parseRule(childPath, t, m, onUnknown)}
			continue
		}
		node.Children[key] = parseTree(childPath, m, onUnknown)
	}
	node.IsList, node.order = orderKeys(node.Children)
	return node
}

func parseRule(path, t string, m map[string]any, onUnknown UnknownRuleFunc) Rule {
	key := str(m["key"])
	switch RuleType(t) {
	case RuleAttr:
		return Attr{Key: key}
	case RuleCredentials:
		return Credential{Key: key, Fallback: m["fallback"]}
	case RuleData:
		return Data{Key: key}
	case RuleTrans:
		return Translate{Key: key, Locale: str(m["locale"]), Fallback: m["fallback"]}
	case RuleConst:
		return Const{Value: m["value"]}
	case RuleDate:
		return Date{Key: key}
	case RuleAnswersText, RuleAnswersHTML:
		return Answers{Options: RenderOptions{
			HTML:         RuleType(t) == RuleAnswersHTML,
			Markdown:     boolOf(m["markdown"]),
			Separator:    str(m["separator"]),
			ShowUTM:      boolOf(m["show_utm"]),
			ShowExtra:    boolOf(m["show_extra"]),
			ShowContacts: boolOf(m["show_contacts"]),
			Locale:       str(m["locale"]),
		}}
	case RuleComplex:
		kind := str(m["kind"])
		if kind == "" {
			kind = key
		}
		return Complex{Kind: kind, Key: str(m["source"])}
	case RuleDynamic:
		return Dynamic{Key: key, Template: str(m["template"])}
	default:
		if onUnknown != nil {
			onUnknown(path, t)
		}
		return Unknown{Type: t}
	}
}

// ruleOptions are the keys a rule table may carry besides "type"
var ruleOptions = map[string]bool{
	"type": true, "key": true, "fallback": true, "locale": true, "value": true,
	"markdown": true, "separator": true, "show_utm": true, "show_extra": true,
	"show_contacts": true, "kind": true, "source": true, "template": true,
}

func onlyRuleOptions(m map[string]any) bool {
	for k, v := range m {
		if !ruleOptions[k] {
			return false
		}
		if _, nested := asMap(v); nested && k != "fallback" && k != "value" {
			return false
		}
	}
	return true
}

func orderKeys(children map[string]*Node) (bool, []string) {
	keys := make([]string, 0, len(children))
	numeric := len(children) > 0
	for k := range children {
		keys = append(keys, k)
		if _, err := strconv.Atoi(k); err != nil {
			numeric = false
		}
	}
	if numeric {
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		})
		return true, keys
	}
	sort.Strings(keys)
	return false, keys
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	case []any:
		// arrays in configuration behave like numerically keyed subtrees
		out := make(map[string]any, len(m))
		for i, val := range m {
			out[strconv.Itoa(i)] = val
		}
		return out, true
	}
	return nil, false
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func boolOf(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}
