package handlers

import (
	"github.com/amirphl/newsletter-dashboard/app/dto"
	businessflow "github.com/amirphl/newsletter-dashboard/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// BroadcastHandlerInterface defines the contract for broadcast handlers
type BroadcastHandlerInterface interface {
	ListBroadcasts(c fiber.Ctx) error
	GetBroadcast(c fiber.Ctx) error
	CreateBroadcast(c fiber.Ctx) error
	UpdateBroadcast(c fiber.Ctx) error
	SendBroadcast(c fiber.Ctx) error
	DeleteBroadcast(c fiber.Ctx) error
	BulkDeleteBroadcasts(c fiber.Ctx) error
	PreviewBroadcast(c fiber.Ctx) error
}

// BroadcastHandler handles broadcast HTTP requests
type BroadcastHandler struct {
	baseHandler
	broadcastFlow businessflow.BroadcastFlow
}

// NewBroadcastHandler creates a new broadcast handler
func NewBroadcastHandler(broadcastFlow businessflow.BroadcastFlow, log *zap.Logger, timeouts Timeouts) *BroadcastHandler {
	return &BroadcastHandler{
		baseHandler:   newBaseHandler(log, timeouts),
		broadcastFlow: broadcastFlow,
	}
}

// ListBroadcasts returns a page of broadcasts, newest first
// @Summary List Broadcasts
// @Tags Broadcasts
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 10, max 100)"
// @Param status query string false "Status filter"
// @Success 200 {object} dto.APIResponse{data=dto.ListBroadcastsResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/broadcasts [get]
func (h *BroadcastHandler) ListBroadcasts(c fiber.Ctx) error {
	page, limit, err := parsePagination(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}

	req := dto.ListBroadcastsRequest{
		Page:   page,
		Limit:  limit,
		Status: optionalQuery(c, "status"),
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts")
	defer cancel()

	result, err := h.broadcastFlow.ListBroadcasts(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to list broadcasts", "LIST_BROADCASTS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcasts retrieved successfully", result)
}

// GetBroadcast returns one broadcast
// @Summary Get Broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path string true "Broadcast ID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/broadcasts/{id} [get]
func (h *BroadcastHandler) GetBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:id")
	defer cancel()

	result, err := h.broadcastFlow.GetBroadcast(ctx, c.Params("id"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to get broadcast", "GET_BROADCAST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast retrieved successfully", result)
}

// CreateBroadcast stores a draft and, for all-subscriber targets, creates it at the provider
// @Summary Create Broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.CreateBroadcastRequest true "Broadcast"
// @Success 201 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 400 {object} dto.APIResponse "Invalid target, empty category or scheduled category broadcast"
// @Failure 500 {object} dto.APIResponse
// @Router /api/v1/broadcasts [post]
func (h *BroadcastHandler) CreateBroadcast(c fiber.Ctx) error {
	var req dto.CreateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts")
	defer cancel()

	result, err := h.broadcastFlow.CreateBroadcast(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to create broadcast", "CREATE_BROADCAST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Broadcast created successfully", result)
}

// UpdateBroadcast edits a broadcast record
// @Summary Update Broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path string true "Broadcast ID"
// @Param request body dto.UpdateBroadcastRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/broadcasts/{id} [patch]
func (h *BroadcastHandler) UpdateBroadcast(c fiber.Ctx) error {
	var req dto.UpdateBroadcastRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:id")
	defer cancel()

	result, err := h.broadcastFlow.UpdateBroadcast(ctx, c.Params("id"), &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to update broadcast", "UPDATE_BROADCAST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast updated successfully", result)
}

// SendBroadcast dispatches a broadcast now or at the optional scheduled_at
// @Summary Send Broadcast
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param id path string true "Broadcast ID"
// @Param request body dto.SendBroadcastRequest false "Optional schedule"
// @Success 200 {object} dto.APIResponse{data=dto.SendBroadcastResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Failure 500 {object} dto.APIResponse "Failed to send broadcast"
// @Router /api/v1/broadcasts/{id}/send [post]
func (h *BroadcastHandler) SendBroadcast(c fiber.Ctx) error {
	var req dto.SendBroadcastRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}

	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/broadcasts/:id/send", h.timeouts.Dispatch)
	defer cancel()

	result, err := h.broadcastFlow.SendBroadcast(ctx, c.Params("id"), &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to send broadcast", "BROADCAST_SEND_FAILED")
	}

	message := "Broadcast sent successfully"
	if result.Broadcast.ScheduledAt != nil && result.Broadcast.SentAt == nil {
		message = "Broadcast scheduled successfully"
	}
	return h.SuccessResponse(c, fiber.StatusOK, message, result)
}

// DeleteBroadcast removes a broadcast locally and, best effort, from the provider
// @Summary Delete Broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path string true "Broadcast ID"
// @Success 200 {object} dto.APIResponse{data=dto.BroadcastDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/broadcasts/{id} [delete]
func (h *BroadcastHandler) DeleteBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:id")
	defer cancel()

	result, err := h.broadcastFlow.DeleteBroadcast(ctx, c.Params("id"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to delete broadcast", "DELETE_BROADCAST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast deleted successfully", result)
}

// BulkDeleteBroadcasts removes many broadcasts, pacing provider calls
// @Summary Bulk Delete Broadcasts
// @Tags Broadcasts
// @Accept json
// @Produce json
// @Param request body dto.BulkDeleteRequest true "Broadcast IDs"
// @Success 200 {object} dto.APIResponse{data=dto.BulkDeleteResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/broadcasts/bulk-delete [post]
func (h *BroadcastHandler) BulkDeleteBroadcasts(c fiber.Ctx) error {
	var req dto.BulkDeleteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/broadcasts/bulk-delete", h.timeouts.Dispatch)
	defer cancel()

	result, err := h.broadcastFlow.DeleteManyBroadcasts(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to delete broadcasts", "BULK_DELETE_BROADCASTS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcasts deleted successfully", result)
}

// PreviewBroadcast renders the email body of a broadcast
// @Summary Preview Broadcast
// @Tags Broadcasts
// @Produce json
// @Param id path string true "Broadcast ID"
// @Param format query string false "json (default) or html"
// @Success 200 {object} dto.APIResponse{data=dto.PreviewBroadcastResponse}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/broadcasts/{id}/preview [get]
func (h *BroadcastHandler) PreviewBroadcast(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/broadcasts/:id/preview")
	defer cancel()

	result, err := h.broadcastFlow.PreviewBroadcast(ctx, c.Params("id"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to preview broadcast", "PREVIEW_BROADCAST_FAILED")
	}

	if c.Query("format") == "html" {
		c.Set("Content-Type", "text/html; charset=utf-8")
		return c.SendString(result.HTML)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Broadcast preview rendered", result)
}
