package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/repository"
	"dispatch/internal/service"
	"dispatch/internal/store"
	"dispatch/internal/wallet"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/store errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidRiderID),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidTripID),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidTripRequest),
		errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest

	// Payment required
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired

	// Business rule - assigned driver mismatch
	case errors.Is(err, store.ErrDriverMismatch):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrTripAlreadyTaken),
		errors.Is(err, service.ErrDriverBusy),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict

	// Rate limiting
	case errors.Is(err, service.ErrAdmissionRejected):
		return http.StatusTooManyRequests

	// Downstream unavailable
	case errors.Is(err, wallet.ErrUnavailable),
		errors.Is(err, service.ErrNoDriverAvailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
