package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appintegration "github.com/leadflow/backend/internal/application/integration"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
)

// IntegrationHandler exposes the channel registry: listing types, testing
// credentials and sending a lead synchronously
type IntegrationHandler struct {
	BaseHandler
	manager *appintegration.Manager
	leads   lead.Repository
}

// NewIntegrationHandler creates a new integration handler
func NewIntegrationHandler(manager *appintegration.Manager, leads lead.Repository) *IntegrationHandler {
	return &IntegrationHandler{
		manager: manager,
		leads:   leads,
	}
}

// ListTypes godoc
// @ID           listIntegrationTypes
// @Summary      List integration types
// @Description  Every registered channel type with its required credential fields
// @Tags         integrations
// @Produce      json
// @Success      200 {object} APIResponse[[]appintegration.TypeInfo]
// @Router       /integrations/types [get]
func (h *IntegrationHandler) ListTypes(c *gin.Context) {
	h.Success(c, h.manager.Types())
}

// TestConnection godoc
// @ID           testIntegrationConnection
// @Summary      Test integration credentials
// @Description  Verify credentials against the remote system without sending a lead
// @Tags         integrations
// @Accept       json
// @Produce      json
// @Param        type path string true "Integration type" example(amocrm)
// @Param        request body TestConnectionRequest true "Credentials"
// @Success      200 {object} APIResponse[appintegration.ResultDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /integrations/{type}/test [post]
func (h *IntegrationHandler) TestConnection(c *gin.Context) {
	sel, err := h.manager.Select(c.Param("type"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req TestConnectionRequest
	if !h.BindJSON(c, &req, false) {
		return
	}

	h.Result(c, sel.TestConnection(c.Request.Context(), integration.Credentials(req.Credentials)))
}

// Send godoc
// @ID           sendLeadToIntegration
// @Summary      Send a lead synchronously
// @Description  Send (or update) one lead through one channel inside the request, bypassing the queue
// @Tags         integrations
// @Accept       json
// @Produce      json
// @Param        type path string true "Integration type" example(bitrix24)
// @Param        request body SendLeadRequest true "Lead and credentials"
// @Success      200 {object} APIResponse[appintegration.ResultDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /integrations/{type}/send [post]
func (h *IntegrationHandler) Send(c *gin.Context) {
	sel, err := h.manager.Select(c.Param("type"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req SendLeadRequest
	if !h.BindJSON(c, &req, false) {
		return
	}

	ctx := c.Request.Context()
	l, err := h.leads.FindByID(ctx, uuid.MustParse(req.LeadID))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	creds := integration.Credentials(req.Credentials)
	var res *integration.Result
	if req.Update {
		res = sel.Update(ctx, l, creds)
	} else {
		res = sel.Send(ctx, l, creds)
	}
	h.Result(c, res)
}
