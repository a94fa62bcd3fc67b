package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/locale"
)

// NotifierConfig holds notification settings
type NotifierConfig struct {
	// OperatorEmails receive one summary per finished batch
	OperatorEmails []string
	// OperatorLocale selects the operator template locale
	OperatorLocale string
}

// Notifier mails lead owners about permanently failed units and operators
// about finished batches. It never returns an error; delivery problems are
// logged and dropped.
type Notifier struct {
	mail      integration.MailSender
	owners    lead.OwnerDirectory
	templates integration.TemplateResolver
	cfg       NotifierConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifier creates a new Notifier
func NewNotifier(
	mail integration.MailSender,
	owners lead.OwnerDirectory,
	templates integration.TemplateResolver,
	cfg NotifierConfig,
	log *zap.Logger,
) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		mail:      mail,
		owners:    owners,
		templates: templates,
		cfg:       cfg,
		logger:    log.Named("notifier"),
		now:       time.Now,
	}
}

// UnitFailed tells the lead owner that a unit exhausted its attempts
func (n *Notifier) UnitFailed(ctx context.Context, l *lead.Lead, unit *integration.DispatchUnit) {
	log := n.logger.With(
		zap.String("lead_id", unit.LeadID.String()),
		zap.String("unit_id", unit.ID.String()),
	)
	if n.mail == nil || n.owners == nil || l == nil {
		log.Debug("Owner notification skipped")
		return
	}

	owner, err := n.owners.OwnerOf(ctx, l)
	if err != nil {
		log.Warn("Failed to resolve lead owner", zap.Error(err))
		return
	}
	if owner == nil || owner.Email == "" {
		log.Info("Lead has no owner to notify")
		return
	}

	loc := owner.Locale
	if loc == "" {
		loc = l.Locale
	}
	data := map[string]any{
		"lead_id":     l.ID.String(),
		"lead_name":   l.Name,
		"lead_email":  l.Email,
		"lead_phone":  l.Phone,
		"integration": unit.ChannelType.String(),
		"error":       unit.LastError,
		"attempts":    unit.Attempt,
		"timestamp":   n.now().UTC().Format(time.RFC3339),
	}
	n.send(ctx, log, owner.Email, locale.TemplateIntegrationFailed, loc, data)
}

// BatchFinished sends one summary of a finalized batch to every operator
func (n *Notifier) BatchFinished(ctx context.Context, batch *integration.Batch, units []*integration.DispatchUnit) {
	log := n.logger.With(
		zap.String("lead_id", batch.LeadID.String()),
		zap.String("batch_id", batch.ID.String()),
	)
	if n.mail == nil || len(n.cfg.OperatorEmails) == 0 {
		log.Debug("Operator notification skipped")
		return
	}

	code := locale.TemplateBatchSuccess
	switch batch.Status {
	case integration.BatchStatusPartial:
		code = locale.TemplateBatchFailure
	case integration.BatchStatusFailed:
		code = locale.TemplateBatchCritical
	}

	failures := make([]any, 0)
	for _, u := range units {
		if u.Status == integration.UnitStatusPermanentlyFailed {
			failures = append(failures, map[string]any{
				"integration": u.ChannelType.String(),
				"error":       u.LastError,
				"attempts":    u.Attempt,
			})
		}
	}
	data := map[string]any{
		"lead_id":   batch.LeadID.String(),
		"batch_id":  batch.ID.String(),
		"trigger":   string(batch.Trigger),
		"status":    string(batch.Status),
		"total":     batch.Total,
		"processed": batch.Processed,
		"succeeded": batch.Succeeded,
		"failed":    batch.Failed,
		"failures":  failures,
		"timestamp": n.now().UTC().Format(time.RFC3339),
	}
	for _, addr := range n.cfg.OperatorEmails {
		n.send(ctx, log, addr, code, n.cfg.OperatorLocale, data)
	}
}

func (n *Notifier) send(ctx context.Context, log *zap.Logger, address, code, loc string, data map[string]any) {
	templateID := code
	if n.templates != nil {
		if id, ok := n.templates.EmailTemplate(code, loc); ok {
			templateID = id
		}
	}

	ok, err := n.mail.Send(ctx, address, templateID, data)
	if err != nil {
		log.Warn("Notification delivery failed",
			zap.String("template", code),
			zap.String("address", address),
			zap.Error(err),
		)
		return
	}
	if !ok {
		log.Warn("Notification rejected by mail sender",
			zap.String("template", code),
			zap.String("address", address),
		)
		return
	}
	log.Debug("Notification sent", zap.String("template", code), zap.String("address", address))
}
