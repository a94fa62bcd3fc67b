package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leadflow/backend/internal/application/dispatch"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// LeadHandler starts dispatch for leads
type LeadHandler struct {
	BaseHandler
	leads    lead.Repository
	detector *dispatch.AutoDetector
	resend   *dispatch.ResendService
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(leads lead.Repository, detector *dispatch.AutoDetector, resend *dispatch.ResendService) *LeadHandler {
	return &LeadHandler{
		leads:    leads,
		detector: detector,
		resend:   resend,
	}
}

// Dispatch godoc
// @ID           dispatchLead
// @Summary      Dispatch a lead
// @Description  Queue auto-detection: the lead is sent to every integration configured for its entity and project
// @Tags         leads
// @Produce      json
// @Param        id path string true "Lead ID" format(uuid)
// @Success      202 {object} APIResponse[EnqueuedResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /leads/{id}/dispatch [post]
func (h *LeadHandler) Dispatch(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.BadRequest(c, "Invalid lead ID")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.leads.FindByID(ctx, id); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.detector.Enqueue(ctx, id); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, EnqueuedResponse{LeadID: id, Job: string(queue.JobAutoDetect)})
}

// Resend godoc
// @ID           resendLead
// @Summary      Resend a lead
// @Description  Re-run dispatch for one lead. By default the resend is queued; with wait=true the batch is created inside the request.
// @Tags         leads
// @Accept       json
// @Produce      json
// @Param        id path string true "Lead ID" format(uuid)
// @Param        request body ResendLeadRequest false "Resend options"
// @Success      201 {object} APIResponse[BatchCreatedResponse]
// @Success      202 {object} APIResponse[EnqueuedResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /leads/{id}/resend [post]
func (h *LeadHandler) Resend(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.BadRequest(c, "Invalid lead ID")
		return
	}

	var body ResendLeadRequest
	if !h.BindJSON(c, &body, true) {
		return
	}

	types, err := parseTypes(body.Types)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	creds, err := parseCredentialOverrides(body.Credentials)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	req := dispatch.ResendRequest{
		LeadID:      id,
		Types:       types,
		Credentials: creds,
		Update:      body.Update,
	}
	ctx := c.Request.Context()

	if body.Wait {
		batch, err := h.resend.Resend(ctx, req)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Created(c, toBatchCreatedResponse(batch))
		return
	}

	if _, err := h.leads.FindByID(ctx, id); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.resend.Enqueue(ctx, req); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, EnqueuedResponse{LeadID: id, Job: string(queue.JobResend)})
}

// BulkResend godoc
// @ID           bulkResendLeads
// @Summary      Resend many leads
// @Description  Queue a resend per lead. Best effort: missing leads are counted as errors and skipped.
// @Tags         leads
// @Accept       json
// @Produce      json
// @Param        request body BulkResendLeadsRequest true "Leads and options"
// @Success      202 {object} APIResponse[dispatch.BulkResendResult]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Router       /leads/resend [post]
func (h *LeadHandler) BulkResend(c *gin.Context) {
	var body BulkResendLeadsRequest
	if !h.BindJSON(c, &body, false) {
		return
	}

	types, err := parseTypes(body.Types)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	creds, err := parseCredentialOverrides(body.Credentials)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	ids := make([]uuid.UUID, len(body.LeadIDs))
	for i, raw := range body.LeadIDs {
		ids[i] = uuid.MustParse(raw)
	}

	result := h.resend.BulkResend(c.Request.Context(), dispatch.BulkResendRequest{
		LeadIDs:     ids,
		Types:       types,
		Credentials: creds,
		Update:      body.Update,
	})
	h.Accepted(c, result)
}
