// Package locale resolves translations and localized mail templates.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// Config holds locale configuration
type Config struct {
	DefaultLocale string
	// Templates maps template code -> locale -> provider template ID
	Templates map[string]map[string]string
	// Messages adds or overrides translations: locale -> key -> text
	Messages map[string]map[string]string
}

// Service implements integration.Translator and integration.TemplateResolver
type Service struct {
	defaultLocale language.Tag
	tags          []language.Tag
	matcher       language.Matcher
	messages      map[language.Tag]map[string]string
	templates     map[string]map[language.Tag]string
}

// NewService creates a locale service seeded with the built-in catalog
func NewService(cfg Config) *Service {
	def := language.English
	if cfg.DefaultLocale != "" {
		if tag, err := language.Parse(cfg.DefaultLocale); err == nil {
			def = tag
		}
	}

	s := &Service{
		defaultLocale: def,
		messages:      map[language.Tag]map[string]string{},
		templates:     map[string]map[language.Tag]string{},
	}

	for loc, msgs := range defaultMessages {
		s.addMessages(loc, msgs)
	}
	for loc, msgs := range cfg.Messages {
		s.addMessages(loc, msgs)
	}
	for code, byLocale := range defaultTemplates {
		for loc, id := range byLocale {
			s.addTemplate(code, loc, id)
		}
	}
	for code, byLocale := range cfg.Templates {
		for loc, id := range byLocale {
			s.addTemplate(code, loc, id)
		}
	}
	s.rebuildMatcher()
	return s
}

func (s *Service) addMessages(loc string, msgs map[string]string) {
	tag, err := language.Parse(loc)
	if err != nil {
		return
	}
	tag = base(tag)
	s.register(tag)
	if s.messages[tag] == nil {
		s.messages[tag] = map[string]string{}
	}
	for k, v := range msgs {
		s.messages[tag][k] = v
	}
}

func (s *Service) addTemplate(code, loc, id string) {
	tag, err := language.Parse(loc)
	if err != nil {
		return
	}
	tag = base(tag)
	s.register(tag)
	if s.templates[code] == nil {
		s.templates[code] = map[language.Tag]string{}
	}
	s.templates[code][tag] = id
}

func (s *Service) register(tag language.Tag) {
	for _, t := range s.tags {
		if t == tag {
			return
		}
	}
	s.tags = append(s.tags, tag)
}

func (s *Service) rebuildMatcher() {
	// the default locale must come first so it wins on no match
	tags := []language.Tag{base(s.defaultLocale)}
	for _, t := range s.tags {
		if t != tags[0] {
			tags = append(tags, t)
		}
	}
	s.tags = tags
	s.matcher = language.NewMatcher(tags)
}

func base(tag language.Tag) language.Tag {
	b, _ := tag.Base()
	t, err := language.Compose(b)
	if err != nil {
		return tag
	}
	return t
}

// resolve picks the supported tag closest to the requested locale
func (s *Service) resolve(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return base(s.defaultLocale)
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return base(s.defaultLocale)
	}
	_, idx, conf := s.matcher.Match(tag)
	if conf == language.No {
		return base(s.defaultLocale)
	}
	return s.tags[idx]
}

// DefaultLocale returns the fallback locale code
func (s *Service) DefaultLocale() string {
	return base(s.defaultLocale).String()
}

// Has reports whether key is translated in locale or in the default locale
func (s *Service) Has(key, locale string) bool {
	_, ok := s.lookup(key, locale)
	return ok
}

func (s *Service) lookup(key, locale string) (string, bool) {
	if msg, ok := s.messages[s.resolve(locale)][key]; ok {
		return msg, true
	}
	msg, ok := s.messages[base(s.defaultLocale)][key]
	return msg, ok
}

// Translate returns the translation with {param} placeholders substituted.
// Unknown keys are returned unchanged.
func (s *Service) Translate(key string, params map[string]string, locale string) string {
	msg, ok := s.lookup(key, locale)
	if !ok {
		msg = key
	}
	for k, v := range params {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

// EmailTemplate returns the template ID for a code in locale, falling back
// to the default locale
func (s *Service) EmailTemplate(code, locale string) (string, bool) {
	byLocale, ok := s.templates[code]
	if !ok {
		return "", false
	}
	if id, ok := byLocale[s.resolve(locale)]; ok {
		return id, true
	}
	id, ok := byLocale[base(s.defaultLocale)]
	return id, ok
}
