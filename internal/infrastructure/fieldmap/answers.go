package fieldmap

import (
	"html"
	"sort"
	"strings"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

// RenderOptions controls answer block formatting
type RenderOptions struct {
	HTML     bool
	Markdown bool
	// Separator joins lines; defaults to "<br>" for HTML and "\n" otherwise
	Separator    string
	ShowUTM      bool
	ShowExtra    bool
	ShowContacts bool
	Locale       string
}

var fallbackLabels = map[string]string{
	"lead.name":       "Name",
	"lead.email":      "Email",
	"lead.phone":      "Phone",
	"lead.messengers": "Messengers",
	"lead.answers":    "Answers",
	"lead.result":     "Result",
	"lead.utm":        "UTM tags",
	"lead.discount":   "Discount",
	"lead.page":       "Page",
	"lead.file":       "File",
}

var extraLabels = map[string]string{
	"discount": "lead.discount",
	"page":     "lead.page",
}

type formatter struct {
	opts RenderOptions
	tr   integration.Translator
}

func (f formatter) sep() string {
	if f.opts.Separator != "" {
		return f.opts.Separator
	}
	if f.opts.HTML {
		return "<br>"
	}
	return "\n"
}

func (f formatter) text(s string) string {
	if f.opts.HTML {
		return html.EscapeString(s)
	}
	return s
}

func (f formatter) bold(s string) string {
	switch {
	case f.opts.HTML:
		return "<b>" + f.text(s) + "</b>"
	case f.opts.Markdown:
		return "*" + s + "*"
	}
	return s
}

func (f formatter) italic(s string) string {
	switch {
	case f.opts.HTML:
		return "<i>" + f.text(s) + "</i>"
	case f.opts.Markdown:
		return "_" + s + "_"
	}
	return s
}

func (f formatter) link(title, href string) string {
	if title == "" {
		title = href
	}
	switch {
	case f.opts.HTML:
		return `<a href="` + html.EscapeString(href) + `">` + f.text(title) + "</a>"
	case f.opts.Markdown:
		return "[" + title + "](" + href + ")"
	}
	if title == href {
		return href
	}
	return title + ": " + href
}

func (f formatter) label(key string) string {
	if f.tr != nil && f.tr.Has(key, f.opts.Locale) {
		return f.tr.Translate(key, nil, f.opts.Locale)
	}
	if l, ok := fallbackLabels[key]; ok {
		return l
	}
	return key
}

func (f formatter) pair(label, value string) string {
	return f.bold(label+":") + " " + f.text(value)
}

// RenderAnswers renders messengers, quiz answers, the result, UTM tags and
// extra fields as one human-readable block. Sections are separated by an
// empty line.
func RenderAnswers(l *lead.Lead, tr integration.Translator, opts RenderOptions) string {
	f := formatter{opts: opts, tr: tr}

	var sections [][]string
	if opts.ShowContacts {
		sections = append(sections, f.contacts(l))
	}
	sections = append(sections, f.messengers(l), f.answers(l), f.result(l))
	if opts.ShowUTM {
		sections = append(sections, f.keyValues("lead.utm", l.UTM(), nil))
	}
	if opts.ShowExtra {
		sections = append(sections, f.keyValues("", l.Extra(), extraLabels))
	}

	sep := f.sep()
	parts := make([]string, 0, len(sections))
	for _, lines := range sections {
		if len(lines) > 0 {
			parts = append(parts, strings.Join(lines, sep))
		}
	}
	return strings.Join(parts, sep+sep)
}

func (f formatter) contacts(l *lead.Lead) []string {
	var lines []string
	for _, c := range []struct{ key, value string }{
		{"lead.name", l.Name},
		{"lead.phone", l.Phone},
		{"lead.email", l.Email},
	} {
		if strings.TrimSpace(c.value) != "" {
			lines = append(lines, f.pair(f.label(c.key), c.value))
		}
	}
	return lines
}

func (f formatter) messengers(l *lead.Lead) []string {
	keys := sortedKeys(l.Messengers)
	var lines []string
	for _, k := range keys {
		v := strings.TrimSpace(l.Messengers[k])
		if v == "" {
			continue
		}
		lines = append(lines, f.pair(capitalize(k), v))
	}
	return lines
}

func (f formatter) answers(l *lead.Lead) []string {
	var lines []string
	for _, a := range l.Answers() {
		if a.IsFile() {
			files := a.Files()
			if len(files) == 0 {
				continue
			}
			links := make([]string, 0, len(files))
			for _, file := range files {
				name := file.Name
				if name == "" {
					name = f.label("lead.file")
				}
				links = append(links, f.link(name, file.URL))
			}
			lines = append(lines, f.bold(a.Question), strings.Join(links, ", "))
			continue
		}
		text := a.Text()
		if text == "" {
			continue
		}
		lines = append(lines, f.bold(a.Question), f.text(text))
	}
	return lines
}

func (f formatter) result(l *lead.Lead) []string {
	res, ok := l.Result()
	if !ok {
		return nil
	}
	label := f.bold(f.label("lead.result") + ":")
	if res.Link != "" {
		return []string{label + " " + f.link(res.Title, res.Link)}
	}
	return []string{label + " " + f.italic(res.Title)}
}

func (f formatter) keyValues(title string, values map[string]string, labels map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	var lines []string
	if title != "" {
		lines = append(lines, f.bold(f.label(title)))
	}
	for _, k := range sortedKeys(values) {
		label := k
		if key, ok := labels[k]; ok {
			label = f.label(key)
		}
		lines = append(lines, f.pair(label, values[k]))
	}
	return lines
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
