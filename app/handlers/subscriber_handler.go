package handlers

import (
	"path/filepath"
	"strings"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	businessflow "github.com/amirphl/newsletter-dashboard/business_flow"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SubscriberHandlerInterface defines the contract for subscriber handlers
type SubscriberHandlerInterface interface {
	ListSubscribers(c fiber.Ctx) error
	GetSubscriber(c fiber.Ctx) error
	CreateSubscriber(c fiber.Ctx) error
	UpdateSubscriber(c fiber.Ctx) error
	DeleteSubscriber(c fiber.Ctx) error
	BulkDeleteSubscribers(c fiber.Ctx) error
	GetCategoryStats(c fiber.Ctx) error
	ImportSubscribers(c fiber.Ctx) error
	ExportSubscribers(c fiber.Ctx) error
	Unsubscribe(c fiber.Ctx) error
}

// SubscriberHandler handles subscriber directory HTTP requests
type SubscriberHandler struct {
	baseHandler
	subscriberFlow businessflow.SubscriberFlow
}

// NewSubscriberHandler creates a new subscriber handler
func NewSubscriberHandler(subscriberFlow businessflow.SubscriberFlow, log *zap.Logger, timeouts Timeouts) *SubscriberHandler {
	return &SubscriberHandler{
		baseHandler:    newBaseHandler(log, timeouts),
		subscriberFlow: subscriberFlow,
	}
}

// ListSubscribers returns a page of subscribers, newest first
// @Summary List Subscribers
// @Tags Subscribers
// @Produce json
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 10, max 100)"
// @Param category query string false "Category filter"
// @Param status query string false "Status filter"
// @Success 200 {object} dto.APIResponse{data=dto.ListSubscribersResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/subscribers [get]
func (h *SubscriberHandler) ListSubscribers(c fiber.Ctx) error {
	page, limit, err := parsePagination(c)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}

	req := dto.ListSubscribersRequest{
		Page:     page,
		Limit:    limit,
		Category: optionalQuery(c, "category"),
		Status:   optionalQuery(c, "status"),
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers")
	defer cancel()

	result, err := h.subscriberFlow.ListSubscribers(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to list subscribers", "LIST_SUBSCRIBERS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscribers retrieved successfully", result)
}

// GetSubscriber returns one subscriber
// @Summary Get Subscriber
// @Tags Subscribers
// @Produce json
// @Param id path string true "Subscriber ID"
// @Success 200 {object} dto.APIResponse{data=dto.SubscriberDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/subscribers/{id} [get]
func (h *SubscriberHandler) GetSubscriber(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers/:id")
	defer cancel()

	result, err := h.subscriberFlow.GetSubscriber(ctx, c.Params("id"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to get subscriber", "GET_SUBSCRIBER_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscriber retrieved successfully", result)
}

// CreateSubscriber registers an email with the provider and stores it
// @Summary Create Subscriber
// @Tags Subscribers
// @Accept json
// @Produce json
// @Param request body dto.CreateSubscriberRequest true "Subscriber"
// @Success 201 {object} dto.APIResponse{data=dto.SubscriberDTO}
// @Failure 400 {object} dto.APIResponse
// @Failure 409 {object} dto.APIResponse "Email already subscribed"
// @Router /api/v1/subscribers [post]
func (h *SubscriberHandler) CreateSubscriber(c fiber.Ctx) error {
	var req dto.CreateSubscriberRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers")
	defer cancel()

	result, err := h.subscriberFlow.CreateSubscriber(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to create subscriber", "CREATE_SUBSCRIBER_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Subscriber created successfully", result)
}

// UpdateSubscriber changes status or category of a subscriber
// @Summary Update Subscriber
// @Tags Subscribers
// @Accept json
// @Produce json
// @Param id path string true "Subscriber ID"
// @Param request body dto.UpdateSubscriberRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.SubscriberDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/subscribers/{id} [patch]
func (h *SubscriberHandler) UpdateSubscriber(c fiber.Ctx) error {
	var req dto.UpdateSubscriberRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers/:id")
	defer cancel()

	result, err := h.subscriberFlow.UpdateSubscriber(ctx, c.Params("id"), &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to update subscriber", "UPDATE_SUBSCRIBER_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscriber updated successfully", result)
}

// DeleteSubscriber removes a subscriber locally and, best effort, from the provider
// @Summary Delete Subscriber
// @Tags Subscribers
// @Produce json
// @Param id path string true "Subscriber ID"
// @Success 200 {object} dto.APIResponse{data=dto.SubscriberDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/subscribers/{id} [delete]
func (h *SubscriberHandler) DeleteSubscriber(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers/:id")
	defer cancel()

	result, err := h.subscriberFlow.DeleteSubscriber(ctx, c.Params("id"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to delete subscriber", "DELETE_SUBSCRIBER_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscriber deleted successfully", result)
}

// BulkDeleteSubscribers removes many subscribers, pacing provider calls
// @Summary Bulk Delete Subscribers
// @Tags Subscribers
// @Accept json
// @Produce json
// @Param request body dto.BulkDeleteRequest true "Subscriber IDs"
// @Success 200 {object} dto.APIResponse{data=dto.BulkDeleteResponse}
// @Failure 400 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/subscribers/bulk-delete [post]
func (h *SubscriberHandler) BulkDeleteSubscribers(c fiber.Ctx) error {
	var req dto.BulkDeleteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/subscribers/bulk-delete", h.timeouts.Dispatch)
	defer cancel()

	result, err := h.subscriberFlow.DeleteManySubscribers(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to delete subscribers", "BULK_DELETE_SUBSCRIBERS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscribers deleted successfully", result)
}

// GetCategoryStats returns active subscriber counts per category
// @Summary Subscriber Category Stats
// @Tags Subscribers
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.CategoryStatsResponse}
// @Router /api/v1/subscribers/stats [get]
func (h *SubscriberHandler) GetCategoryStats(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers/stats")
	defer cancel()

	result, err := h.subscriberFlow.GetCategoryStats(ctx)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to get category stats", "CATEGORY_STATS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Category stats retrieved successfully", result)
}

// ImportSubscribers subscribes every email of an uploaded CSV or XLSX file
// @Summary Import Subscribers
// @Tags Subscribers
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file with an email column"
// @Param category formData string false "Category for imported subscribers"
// @Success 200 {object} dto.APIResponse{data=dto.ImportSubscribersResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/v1/subscribers/import [post]
func (h *SubscriberHandler) ImportSubscribers(c fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "File is required", "FILE_REQUIRED", nil)
	}

	req := dto.ImportSubscribersRequest{
		Filename: fileHeader.Filename,
		Format:   importFormat(fileHeader.Filename),
		Category: c.FormValue("category"),
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Failed to open uploaded file", "FILE_OPEN_FAILED", nil)
	}
	defer file.Close()

	ctx, cancel := h.createRequestContextWithTimeout(c, "/api/v1/subscribers/import", h.timeouts.Dispatch)
	defer cancel()

	result, err := h.subscriberFlow.ImportSubscribers(ctx, &req, file)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to import subscribers", "IMPORT_SUBSCRIBERS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Subscribers imported", result)
}

// ExportSubscribers downloads the directory as an XLSX workbook
// @Summary Export Subscribers
// @Tags Subscribers
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param category query string false "Category filter"
// @Param status query string false "Status filter"
// @Success 200 {file} file
// @Router /api/v1/subscribers/export [get]
func (h *SubscriberHandler) ExportSubscribers(c fiber.Ctx) error {
	req := dto.ExportSubscribersRequest{
		Category: optionalQuery(c, "category"),
		Status:   optionalQuery(c, "status"),
	}
	if ok, resp := h.validate(c, &req); !ok {
		return resp
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/subscribers/export")
	defer cancel()

	result, err := h.subscriberFlow.ExportSubscribers(ctx, &req)
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to export subscribers", "EXPORT_SUBSCRIBERS_FAILED")
	}

	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", "attachment; filename="+result.Filename)
	return c.Send(result.Data)
}

// Unsubscribe is the public link embedded in category emails
// @Summary Unsubscribe
// @Tags Public
// @Produce json
// @Param token path string true "Unsubscribe token"
// @Success 200 {object} dto.APIResponse{data=dto.UnsubscribeResponse}
// @Failure 404 {object} dto.APIResponse
// @Router /api/v1/unsubscribe/{token} [get]
func (h *SubscriberHandler) Unsubscribe(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/unsubscribe/:token")
	defer cancel()

	result, err := h.subscriberFlow.Unsubscribe(ctx, c.Params("token"))
	if err != nil {
		return h.BusinessErrorResponse(c, ctx, err, "Failed to unsubscribe", "UNSUBSCRIBE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "You have been unsubscribed", result)
}

func importFormat(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}
