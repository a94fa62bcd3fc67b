package locale

// Template codes used by dispatch
const (
	TemplateNewLead           = "new_lead"
	TemplateIntegrationFailed = "integration_failed"
	TemplateBatchSuccess      = "batch_success"
	TemplateBatchFailure      = "batch_failure"
	TemplateBatchCritical     = "batch_critical"
)

var defaultTemplates = map[string]map[string]string{
	TemplateNewLead:           {"en": "new-lead-en", "ru": "new-lead-ru"},
	TemplateIntegrationFailed: {"en": "integration-failed-en", "ru": "integration-failed-ru"},
	TemplateBatchSuccess:      {"en": "batch-success-en"},
	TemplateBatchFailure:      {"en": "batch-failure-en"},
	TemplateBatchCritical:     {"en": "batch-critical-en"},
}

var defaultMessages = map[string]map[string]string{
	"en": {
		"lead.name":          "Name",
		"lead.email":         "Email",
		"lead.phone":         "Phone",
		"lead.messengers":    "Messengers",
		"lead.answers":       "Answers",
		"lead.result":        "Result",
		"lead.utm":           "UTM tags",
		"lead.discount":      "Discount",
		"lead.page":          "Page",
		"lead.new":           "New lead",
		"lead.title":         "Lead {name}",
		"lead.file":          "File",
		"integration.failed": "Lead {lead} could not be delivered to {channel}: {error}",
		"batch.success":      "Lead {lead} delivered to all {total} integrations",
		"batch.failure":      "Lead {lead}: {failed} of {total} integrations failed",
		"batch.critical":     "Lead {lead}: all {total} integrations failed",
	},
	"ru": {
		"lead.name":          "Имя",
		"lead.email":         "Email",
		"lead.phone":         "Телефон",
		"lead.messengers":    "Мессенджеры",
		"lead.answers":       "Ответы",
		"lead.result":        "Результат",
		"lead.utm":           "UTM-метки",
		"lead.discount":      "Скидка",
		"lead.page":          "Страница",
		"lead.new":           "Новая заявка",
		"lead.title":         "Заявка {name}",
		"lead.file":          "Файл",
		"integration.failed": "Заявку {lead} не удалось отправить в {channel}: {error}",
	},
}
