package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/models"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

func InternalError(message, details string) *APIError {
	return NewAPIError(http.StatusInternalServerError, message, details)
}

func ConflictError(message, details string) *APIError {
	return NewAPIError(http.StatusConflict, message, details)
}

// FromError maps an orchestration error onto an APIError.
func FromError(err error) *APIError {
	var (
		apiErr       *APIError
		manifestErr  *models.ManifestError
		notInstalled *models.NotInstalledError
		connErr      *models.ConnectionError
		timeoutErr   *models.TimeoutError
		credErr      *models.ECRCredentialsError
		imageErr     *models.ImageError
		containerErr *models.ContainerError
	)

	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &manifestErr):
		return BadRequestError("Invalid manifest", manifestErr.Message)
	case errors.As(err, &notInstalled):
		return NewAPIError(http.StatusServiceUnavailable, "Container engine not installed", err.Error())
	// Timeouts are checked before connection errors: an exhausted retry
	// budget wraps the last timeout in a ConnectionError.
	case errors.As(err, &timeoutErr):
		return NewAPIError(http.StatusGatewayTimeout, "Engine operation timed out", err.Error())
	case errors.As(err, &connErr):
		return NewAPIError(http.StatusServiceUnavailable, "Container engine unavailable", err.Error())
	case errors.As(err, &credErr):
		return NewAPIError(http.StatusBadGateway, "Registry credentials unavailable", err.Error())
	case errors.As(err, &imageErr):
		return NewAPIError(http.StatusBadGateway, "Image operation failed", err.Error())
	case errors.As(err, &containerErr):
		return NewAPIError(http.StatusBadGateway, "Container operation failed", err.Error())
	case errors.Is(err, context.Canceled):
		return NewAPIError(http.StatusServiceUnavailable, "Operation cancelled", err.Error())
	case engine.Classify(err) == engine.ClassNotFound:
		return NewAPIError(http.StatusNotFound, getHTTPMessage(http.StatusNotFound), err.Error())
	}
	return InternalError("Internal server error", err.Error())
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	if he, ok := err.(*echo.HTTPError); ok {
		apiErr = &APIError{
			Code:    he.Code,
			Message: getHTTPMessage(he.Code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else {
		apiErr = FromError(err)
	}

	// Don't expose internal errors in production
	if apiErr.Code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(apiErr.Code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusUnauthorized:        "Unauthorized",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusBadGateway:          "Bad gateway",
		http.StatusServiceUnavailable:  "Service unavailable",
		http.StatusGatewayTimeout:      "Gateway timeout",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
