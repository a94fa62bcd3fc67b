// Package lead contains the Lead aggregate that outbound integrations read
// from and write their results back to.
package lead

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrLeadNotFound = errors.New("lead: not found")
	ErrInvalidLead  = errors.New("lead: invalid lead")
)

// IntegrationStatus is the aggregate outcome of the last dispatch batch.
type IntegrationStatus string

const (
	IntegrationStatusNone      IntegrationStatus = "none"
	IntegrationStatusCompleted IntegrationStatus = "completed"
	IntegrationStatusPartial   IntegrationStatus = "partial"
	IntegrationStatusFailed    IntegrationStatus = "failed"
)

// IsValid returns true if the status is a known value
func (s IntegrationStatus) IsValid() bool {
	switch s {
	case IntegrationStatusNone, IntegrationStatusCompleted,
		IntegrationStatusPartial, IntegrationStatusFailed:
		return true
	default:
		return false
	}
}

// Answer is one quiz answer stored in the lead data bag.
type Answer struct {
	Question string
	Answer   any
	Type     string
}

// FileLink is a file uploaded as a quiz answer.
type FileLink struct {
	Name string
	URL  string
}

// IsFile reports whether the answer carries uploaded files.
func (a Answer) IsFile() bool {
	return a.Type == "file"
}

// Files returns the uploaded files of a file answer. Both {name,url} objects
// and bare URL strings are accepted.
func (a Answer) Files() []FileLink {
	items, ok := a.Answer.([]any)
	if !ok {
		if s, ok := a.Answer.(string); ok && s != "" {
			return []FileLink{{Name: s, URL: s}}
		}
		return nil
	}
	files := make([]FileLink, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			files = append(files, FileLink{Name: v, URL: v})
		case map[string]any:
			url := fmt.Sprint(v["url"])
			name, _ := v["name"].(string)
			if name == "" {
				name = url
			}
			files = append(files, FileLink{Name: name, URL: url})
		}
	}
	return files
}

// Text renders a non-file answer as text. Lists are joined with ", ".
func (a Answer) Text() string {
	switch v := a.Answer.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		out := ""
		for i, item := range v {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprint(item)
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}

// Result is the quiz result shown to the respondent.
type Result struct {
	Title string
	Link  string
}

// Lead is a captured contact with its submission data.
type Lead struct {
	ID                uuid.UUID
	Name              string
	Email             string
	Phone             string
	Messengers        map[string]string
	Data              map[string]any
	Locale            string
	IntegrationStatus IntegrationStatus
	IntegrationData   map[string]any
	ExternalID        *string
	ExternalEntityID  *uuid.UUID
	ExternalProjectID *uuid.UUID
	OwnerID           *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewLead creates a lead with empty data bags
func NewLead(name, email, phone string) *Lead {
	now := time.Now()
	return &Lead{
		ID:                uuid.New(),
		Name:              name,
		Email:             email,
		Phone:             phone,
		Messengers:        map[string]string{},
		Data:              map[string]any{},
		IntegrationStatus: IntegrationStatusNone,
		IntegrationData:   map[string]any{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Attribute returns a top-level attribute by its snake_case name. The second
// return value is false for unknown names and for unset optional attributes.
func (l *Lead) Attribute(key string) (any, bool) {
	switch key {
	case "id":
		return l.ID.String(), true
	case "name":
		return l.Name, l.Name != ""
	case "email":
		return l.Email, l.Email != ""
	case "phone":
		return l.Phone, l.Phone != ""
	case "locale":
		return l.Locale, l.Locale != ""
	case "integration_status":
		return string(l.IntegrationStatus), true
	case "external_id":
		if l.ExternalID == nil {
			return nil, false
		}
		return *l.ExternalID, true
	case "created_at":
		return l.CreatedAt, !l.CreatedAt.IsZero()
	case "updated_at":
		return l.UpdatedAt, !l.UpdatedAt.IsZero()
	case "messengers":
		return l.Messengers, len(l.Messengers) > 0
	default:
		return nil, false
	}
}

// Answers returns the quiz answers from the data bag.
func (l *Lead) Answers() []Answer {
	raw, ok := l.Data["answers"].([]any)
	if !ok {
		return nil
	}
	answers := make([]Answer, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		q, _ := m["question"].(string)
		typ, _ := m["type"].(string)
		answers = append(answers, Answer{Question: q, Answer: m["answer"], Type: typ})
	}
	return answers
}

// Result returns the quiz result, if any.
func (l *Lead) Result() (Result, bool) {
	m, ok := l.Data["result"].(map[string]any)
	if !ok {
		return Result{}, false
	}
	title, _ := m["title"].(string)
	link, _ := m["link"].(string)
	if title == "" && link == "" {
		return Result{}, false
	}
	return Result{Title: title, Link: link}, true
}

// UTM returns the UTM tags captured with the lead.
func (l *Lead) UTM() map[string]string {
	return stringMap(l.Data["utm"])
}

// Extra returns auxiliary values such as discount and page.
func (l *Lead) Extra() map[string]string {
	return stringMap(l.Data["extra"])
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if val == nil {
			continue
		}
		s := fmt.Sprint(val)
		if s == "" {
			continue
		}
		out[k] = s
	}
	return out
}

// IntegrationUpdate is a partial write of integration fields. Nil fields are
// left untouched.
type IntegrationUpdate struct {
	Status          *IntegrationStatus
	ExternalID      *string
	IntegrationData map[string]any
}

// Apply merges the update into the lead. Integration data keys are merged
// shallowly; the last writer wins per key.
func (l *Lead) Apply(u IntegrationUpdate) {
	if u.Status != nil {
		l.IntegrationStatus = *u.Status
	}
	if u.ExternalID != nil {
		id := *u.ExternalID
		l.ExternalID = &id
	}
	if len(u.IntegrationData) > 0 {
		if l.IntegrationData == nil {
			l.IntegrationData = map[string]any{}
		}
		for k, v := range u.IntegrationData {
			l.IntegrationData[k] = v
		}
	}
	l.UpdatedAt = time.Now()
}

// Repository persists leads.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Lead, error)
	Save(ctx context.Context, l *Lead) error
	UpdateIntegration(ctx context.Context, id uuid.UUID, u IntegrationUpdate) error
}

// Owner is the account that owns a lead.
type Owner struct {
	ID     uuid.UUID
	Email  string
	Locale string
}

// OwnerDirectory resolves the owner of a lead.
type OwnerDirectory interface {
	OwnerOf(ctx context.Context, l *Lead) (*Owner, error)
}
