package fieldmap

import "github.com/leadflow/backend/internal/domain/integration"

// Sections read by the channels
const (
	SectionEmail     = "template"
	SectionAmoCRM    = "lead"
	SectionBitrix24  = "fields"
	SectionTelegram  = "message"
	SectionWebhooks  = "payload"
	SectionRetailCRM = "order"
	SectionMailchimp = "member"
)

func rule(t RuleType, kv ...any) map[string]any {
	m := map[string]any{"type": string(t)}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func utmSource(key string) map[string]any {
	return rule(RuleData, "key", "utm."+key)
}

// DefaultTables returns fresh copies of the built-in mapping tables
func DefaultTables() map[integration.ChannelType]map[string]any {
	return map[integration.ChannelType]map[string]any{
		integration.ChannelTypeEmail: {
			SectionEmail: map[string]any{
				"lead_id":    rule(RuleAttr, "key", "id"),
				"name":       rule(RuleAttr, "key", "name"),
				"email":      rule(RuleAttr, "key", "email"),
				"phone":      rule(RuleAttr, "key", "phone"),
				"title":      rule(RuleTrans, "key", "lead.new", "fallback", "New lead"),
				"answers":    rule(RuleAnswersHTML, "show_utm", true, "show_extra", true),
				"created_at": rule(RuleDate, "key", "created_at"),
			},
		},
		integration.ChannelTypeAmoCRM: {
			SectionAmoCRM: map[string]any{
				"name":                rule(RuleTrans, "key", "lead.title", "fallback", "Lead"),
				"price":               rule(RuleCredentials, "key", "price"),
				"pipeline_id":         rule(RuleCredentials, "key", "pipeline_id"),
				"status_id":           rule(RuleCredentials, "key", "status_id"),
				"responsible_user_id": rule(RuleCredentials, "key", "responsible_user_id"),
				"_embedded": map[string]any{
					"contacts": map[string]any{
						"0": map[string]any{
							"name":                rule(RuleAttr, "key", "name"),
							"responsible_user_id": rule(RuleCredentials, "key", "responsible_user_id"),
							"custom_fields_values": map[string]any{
								"0": rule(RuleComplex, "kind", ComplexAmoPhone),
								"1": rule(RuleComplex, "kind", ComplexAmoEmail),
							},
						},
					},
				},
			},
		},
		integration.ChannelTypeBitrix24: {
			SectionBitrix24: map[string]any{
				"TITLE":          rule(RuleTrans, "key", "lead.title", "fallback", "Lead"),
				"NAME":           rule(RuleAttr, "key", "name"),
				"PHONE":          rule(RuleComplex, "kind", ComplexPhone),
				"EMAIL":          rule(RuleComplex, "kind", ComplexEmail),
				"IM":             rule(RuleComplex, "kind", ComplexMessengers),
				"COMMENTS":       rule(RuleAnswersHTML, "show_utm", true, "show_extra", true),
				"ASSIGNED_BY_ID": rule(RuleCredentials, "key", "user_id"),
				"SOURCE_ID":      rule(RuleCredentials, "key", "source_id", "fallback", "WEB"),
				"UTM_SOURCE":     utmSource("utm_source"),
				"UTM_MEDIUM":     utmSource("utm_medium"),
				"UTM_CAMPAIGN":   utmSource("utm_campaign"),
				"UTM_CONTENT":    utmSource("utm_content"),
				"UTM_TERM":       utmSource("utm_term"),
			},
		},
		integration.ChannelTypeTelegram: {
			SectionTelegram: map[string]any{
				"title": rule(RuleTrans, "key", "lead.new", "fallback", "New lead"),
				"text": rule(RuleAnswersHTML,
					"separator", "\n",
					"show_contacts", true,
					"show_utm", true,
					"show_extra", true,
				),
			},
		},
		integration.ChannelTypeWebhooks: {
			SectionWebhooks: map[string]any{
				"id":         rule(RuleAttr, "key", "id"),
				"name":       rule(RuleAttr, "key", "name"),
				"email":      rule(RuleAttr, "key", "email"),
				"phone":      rule(RuleAttr, "key", "phone"),
				"locale":     rule(RuleAttr, "key", "locale"),
				"messengers": rule(RuleAttr, "key", "messengers"),
				"answers":    rule(RuleData, "key", "answers"),
				"result":     rule(RuleData, "key", "result"),
				"utm":        rule(RuleData, "key", "utm"),
				"extra":      rule(RuleData, "key", "extra"),
				"created_at": rule(RuleDate, "key", "created_at"),
			},
		},
		integration.ChannelTypeRetailCRM: {
			SectionRetailCRM: map[string]any{
				"externalId":      rule(RuleAttr, "key", "id"),
				"firstName":       rule(RuleAttr, "key", "name"),
				"email":           rule(RuleAttr, "key", "email"),
				"phone":           rule(RuleAttr, "key", "phone"),
				"orderMethod":     rule(RuleCredentials, "key", "order_method", "fallback", "landing-page"),
				"status":          rule(RuleCredentials, "key", "status"),
				"customerComment": rule(RuleAnswersText, "show_utm", true, "show_extra", true),
				"source": map[string]any{
					"source":   utmSource("utm_source"),
					"medium":   utmSource("utm_medium"),
					"campaign": utmSource("utm_campaign"),
					"keyword":  utmSource("utm_term"),
					"content":  utmSource("utm_content"),
				},
			},
		},
		integration.ChannelTypeMailchimp: {
			SectionMailchimp: map[string]any{
				"email_address": rule(RuleAttr, "key", "email"),
				"status":        rule(RuleCredentials, "key", "status", "fallback", "subscribed"),
				"language":      rule(RuleAttr, "key", "locale"),
				"merge_fields": map[string]any{
					"FNAME": rule(RuleAttr, "key", "name"),
					"PHONE": rule(RuleAttr, "key", "phone"),
				},
				"tags": map[string]any{
					"0": rule(RuleCredentials, "key", "tag"),
				},
			},
		},
	}
}
