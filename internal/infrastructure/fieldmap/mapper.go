package fieldmap

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

// Mapper resolves per-channel mapping tables against leads
type Mapper struct {
	tables     map[integration.ChannelType]*Node
	translator integration.Translator
	logger     *zap.Logger
}

// NewMapper parses the built-in tables, replacing a channel's table
// entirely when overrides provides one
func NewMapper(overrides map[integration.ChannelType]map[string]any, translator integration.Translator, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mapper{
		tables:     make(map[integration.ChannelType]*Node),
		translator: translator,
		logger:     logger.Named("fieldmap"),
	}

	raw := DefaultTables()
	for t, table := range overrides {
		if len(table) > 0 {
			raw[t] = table
		}
	}
	for t, table := range raw {
		channel := t
		m.tables[t] = Parse(table, func(path, ruleType string) {
			m.logger.Warn("Unknown mapping rule type",
				zap.String("channel", channel.String()),
				zap.String("path", path),
				zap.String("rule_type", ruleType),
			)
		})
	}
	return m
}

// HasSection reports whether a channel's table contains section
func (m *Mapper) HasSection(t integration.ChannelType, section string) bool {
	_, ok := m.section(t, section)
	return ok
}

// Map resolves the rules directly under section. Subtrees are ignored.
func (m *Mapper) Map(l *lead.Lead, creds integration.Credentials, t integration.ChannelType, section string) map[string]any {
	node, ok := m.section(t, section)
	out := map[string]any{}
	if !ok || node.IsLeaf() {
		return out
	}
	scope := m.scope(l, creds)
	for _, key := range node.Keys() {
		child := node.Children[key]
		if !child.IsLeaf() {
			continue
		}
		if v, ok := child.Rule.Resolve(scope); ok && v != nil {
			out[key] = v
		}
	}
	return out
}

// MapNested resolves the whole tree under section. Numerically keyed
// subtrees become arrays; empty objects and arrays are omitted.
func (m *Mapper) MapNested(l *lead.Lead, creds integration.Credentials, t integration.ChannelType, section string) map[string]any {
	node, ok := m.section(t, section)
	if !ok || node.IsLeaf() {
		return map[string]any{}
	}
	v, ok := resolveNode(node, m.scope(l, creds))
	if !ok {
		return map[string]any{}
	}
	if obj, isObj := v.(map[string]any); isObj {
		return obj
	}
	// a list section is exposed under its index keys
	out := map[string]any{}
	for i, item := range v.([]any) {
		out[strconv.Itoa(i)] = item
	}
	return out
}

// RenderAnswers renders the answers block with the mapper's translator
func (m *Mapper) RenderAnswers(l *lead.Lead, opts RenderOptions) string {
	return RenderAnswers(l, m.translator, opts)
}

func (m *Mapper) section(t integration.ChannelType, section string) (*Node, bool) {
	root, ok := m.tables[t]
	if !ok {
		return nil, false
	}
	return root.Child(section)
}

func (m *Mapper) scope(l *lead.Lead, creds integration.Credentials) Scope {
	locale := creds.String("locale")
	if locale == "" {
		locale = l.Locale
	}
	if locale == "" && m.translator != nil {
		locale = m.translator.DefaultLocale()
	}
	return Scope{Lead: l, Credentials: creds, Translator: m.translator, Locale: locale}
}

func resolveNode(n *Node, s Scope) (any, bool) {
	if n.IsLeaf() {
		v, ok := n.Rule.Resolve(s)
		return v, ok && v != nil
	}
	if n.IsList {
		items := make([]any, 0, len(n.Children))
		for _, key := range n.Keys() {
			if v, ok := resolveNode(n.Children[key], s); ok {
				items = append(items, v)
			}
		}
		return items, len(items) > 0
	}
	obj := make(map[string]any, len(n.Children))
	for _, key := range n.Keys() {
		if v, ok := resolveNode(n.Children[key], s); ok {
			obj[key] = v
		}
	}
	return obj, len(obj) > 0
}
