package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/leadflow/backend/internal/application/dispatch"
)

// DispatchHandler handles batch inspection and dead unit management
type DispatchHandler struct {
	BaseHandler
	units *dispatch.UnitService
}

// NewDispatchHandler creates a new dispatch handler
func NewDispatchHandler(units *dispatch.UnitService) *DispatchHandler {
	return &DispatchHandler{units: units}
}

// GetBatch godoc
// @ID           getBatch
// @Summary      Get a batch
// @Description  Batch progress with every dispatch unit. Credentials are never returned.
// @Tags         dispatch
// @Produce      json
// @Param        id path string true "Batch ID" format(uuid)
// @Success      200 {object} APIResponse[dispatch.BatchDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /batches/{id} [get]
func (h *DispatchHandler) GetBatch(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.BadRequest(c, "Invalid batch ID")
		return
	}

	batch, err := h.units.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, batch)
}

// ListDeadUnits godoc
// @ID           listDeadDispatchUnits
// @Summary      List dead dispatch units
// @Description  Paginated list of units that exhausted their attempts
// @Tags         dispatch
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]dispatch.UnitDTO]
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /dispatch/dead [get]
func (h *DispatchHandler) ListDeadUnits(c *gin.Context) {
	var filter dispatch.UnitFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	result, err := h.units.ListDead(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, result.Units, result.Total, result.Page, result.PageSize)
}

// RetryUnit godoc
// @ID           retryDispatchUnit
// @Summary      Retry a dead dispatch unit
// @Description  Reset a permanently failed unit and queue it again. Its finalized batch is not reopened.
// @Tags         dispatch
// @Produce      json
// @Param        id path string true "Dispatch unit ID" format(uuid)
// @Success      200 {object} APIResponse[dispatch.UnitDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /dispatch/units/{id}/retry [post]
func (h *DispatchHandler) RetryUnit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		h.BadRequest(c, "Invalid dispatch unit ID")
		return
	}

	unit, err := h.units.Retry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, unit)
}

// GetStats godoc
// @ID           getDispatchStats
// @Summary      Dispatch unit statistics
// @Description  Unit counts per status
// @Tags         dispatch
// @Produce      json
// @Success      200 {object} APIResponse[dispatch.UnitStatsDTO]
// @Failure      500 {object} ErrorResponse
// @Router       /dispatch/stats [get]
func (h *DispatchHandler) GetStats(c *gin.Context) {
	stats, err := h.units.GetStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, stats)
}
