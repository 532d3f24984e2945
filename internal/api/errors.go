package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/booking"
	"comsy.local/booking-service/internal/common"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// classify maps an error to a status code and a stable code string. Only
// caller-facing outcomes keep their message; everything else is reported
// as an internal error.
func classify(err error) (int, errorResponse) {
	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorResponse{Error: verr.Error(), Code: "validation_error", Field: verr.Field}
	case errors.Is(err, booking.ErrValidation):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_error"}
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: err.Error(), Code: "forbidden"}
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, booking.ErrInvalidState):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_state"}
	case errors.Is(err, booking.ErrResourceUnavailable):
		return http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "resource_unavailable"}
	case common.IsCircuitBreakerError(err):
		status, msg := common.HandleCircuitBreakerError(err)
		return status, errorResponse{Error: msg, Code: "unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "Request timed out", Code: "timeout"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "Internal server error", Code: "internal_error"}
	}
}

func respondWithError(c *gin.Context, logger *zap.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg, Code: "validation_error"})
}
