package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// JobHandler runs orchestration jobs from the jobs stream
type JobHandler struct {
	detector *AutoDetector
	resend   *ResendService
	timeout  time.Duration
	logger   *zap.Logger
}

// NewJobHandler creates a new JobHandler. A zero timeout uses the default
// job policy timeout.
func NewJobHandler(detector *AutoDetector, resend *ResendService, timeout time.Duration, log *zap.Logger) *JobHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = integration.DefaultJobPolicy().Timeout
	}
	return &JobHandler{
		detector: detector,
		resend:   resend,
		timeout:  timeout,
		logger:   log.Named("jobs"),
	}
}

// Handle is the queue handler for job messages. Jobs for leads that no
// longer exist and malformed jobs are dropped; other errors requeue.
func (h *JobHandler) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Kind != queue.KindJob {
		return fmt.Errorf("unexpected message kind %q", msg.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	log := h.logger.With(
		zap.String("job", string(msg.Job)),
		zap.String("lead_id", msg.LeadID.String()),
		zap.Int("attempt", msg.Attempt),
	)

	var err error
	switch msg.Job {
	case queue.JobAutoDetect:
		_, err = h.detector.Run(ctx, msg.LeadID)
	case queue.JobResend:
		var req ResendRequest
		req, err = DecodeResendRequest(msg.Body)
		if err != nil {
			log.Error("Dropping malformed resend job", zap.Error(err))
			return nil
		}
		req.LeadID = msg.LeadID
		_, err = h.resend.Resend(ctx, req)
	default:
		log.Error("Dropping unknown job")
		return nil
	}

	switch {
	case err == nil:
		log.Debug("Job done")
		return nil
	case errors.Is(err, lead.ErrLeadNotFound):
		log.Warn("Lead not found, dropping job")
		return nil
	case errors.Is(err, integration.ErrCredentialSetAbsent),
		errors.Is(err, integration.ErrUnsupportedType):
		log.Warn("Job has nothing to dispatch", zap.Error(err))
		return nil
	default:
		log.Error("Job failed", zap.Error(err))
		return err
	}
}
