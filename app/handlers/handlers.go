// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	businessflow "github.com/amirphl/newsletter-dashboard/business_flow"
	"github.com/amirphl/newsletter-dashboard/logger"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultDispatchTimeout = 4 * time.Minute
)

// Timeouts bounds the context handed to business flows
type Timeouts struct {
	Request  time.Duration
	Dispatch time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Request <= 0 {
		t.Request = defaultRequestTimeout
	}
	if t.Dispatch <= 0 {
		t.Dispatch = defaultDispatchTimeout
	}
	return t
}

// baseHandler carries what every handler needs to answer a request
type baseHandler struct {
	validator *validator.Validate
	logger    *zap.Logger
	timeouts  Timeouts
}

func newBaseHandler(log *zap.Logger, timeouts Timeouts) baseHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return baseHandler{
		validator: validator.New(),
		logger:    log,
		timeouts:  timeouts.withDefaults(),
	}
}

func (h *baseHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *baseHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// BusinessErrorResponse maps a flow error onto its HTTP status. Internal errors are
// logged and answered with the flow's generic message only.
func (h *baseHandler) BusinessErrorResponse(c fiber.Ctx, ctx context.Context, err error, fallbackMessage, fallbackCode string) error {
	be, ok := businessflow.AsBusinessError(err)
	if !ok {
		logger.WithContext(ctx, h.logger).Error(fallbackMessage, zap.Error(err))
		return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, fallbackCode, nil)
	}

	switch be.Kind {
	case businessflow.KindNotFound:
		return h.ErrorResponse(c, fiber.StatusNotFound, be.Message, be.Code, nil)
	case businessflow.KindConflict:
		return h.ErrorResponse(c, fiber.StatusConflict, be.Message, be.Code, nil)
	case businessflow.KindBadRequest:
		return h.ErrorResponse(c, fiber.StatusBadRequest, be.Message, be.Code, nil)
	}

	logger.WithContext(ctx, h.logger).Error(be.Message, zap.String("code", be.Code), zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		return h.ErrorResponse(c, fiber.StatusGatewayTimeout, be.Message, be.Code, nil)
	}
	return h.ErrorResponse(c, fiber.StatusInternalServerError, be.Message, be.Code, nil)
}

// validate runs struct validation and returns the 400 response to send, if any
func (h *baseHandler) validate(c fiber.Ctx, req any) (bool, error) {
	err := h.validator.Struct(req)
	if err == nil {
		return true, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, getValidationErrorMessage(fe))
	}
	return false, h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", messages)
}

// createRequestContext creates a context with request-scoped values for observability and timeout
func (h *baseHandler) createRequestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	return h.createRequestContextWithTimeout(c, endpoint, h.timeouts.Request)
}

// createRequestContextWithTimeout creates a context with custom timeout and request-scoped values
func (h *baseHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	requestID := requestid.FromContext(c)
	if requestID == "" {
		requestID = c.Get("X-Request-ID")
	}

	ctx = context.WithValue(ctx, utils.RequestIDKey, requestID)
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)

	return ctx, cancel
}

// parsePagination reads page and limit; absent values fall back to the defaults and
// range checks are left to the flows
func parsePagination(c fiber.Ctx) (page, limit int, err error) {
	page, limit = 1, utils.DefaultPageSize
	if v := c.Query("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("page must be a number")
		}
	}
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("limit must be a number")
		}
	}
	return page, limit, nil
}

func optionalQuery(c fiber.Ctx, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		if err.Kind().String() == "slice" {
			return err.Field() + " must contain at least " + err.Param() + " items"
		}
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		if err.Kind().String() == "slice" {
			return err.Field() + " must contain at most " + err.Param() + " items"
		}
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "uuid":
		return err.Field() + " must be a valid UUID"
	default:
		return err.Field() + " is invalid"
	}
}
