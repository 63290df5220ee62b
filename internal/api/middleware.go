package api

import (
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/models"
)

var containerName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateContentType middleware ensures that requests with a body have the correct Content-Type
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method

		// Only check POST, PUT, PATCH requests
		if method == "POST" || method == "PUT" || method == "PATCH" {
			contentType := c.Request().Header.Get("Content-Type")

			// Allow empty body for some requests
			if c.Request().ContentLength == 0 {
				return next(c)
			}

			// Check if Content-Type is application/json
			if !strings.HasPrefix(contentType, "application/json") {
				return BadRequestError(
					"Invalid Content-Type",
					"Content-Type must be 'application/json'. Got: "+contentType,
				)
			}
		}

		return next(c)
	}
}

// ValidateAcceptHeader middleware ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get("Accept")

		// If no Accept header, assume */*
		if accept == "" {
			return next(c)
		}

		// Check if Accept includes application/json or */*
		if !strings.Contains(accept, "application/json") &&
			!strings.Contains(accept, "*/*") &&
			!strings.Contains(accept, "application/*") {
			return BadRequestError(
				"Invalid Accept header",
				"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
			)
		}

		return next(c)
	}
}

// ValidateIDFormat middleware validates that resource IDs follow expected patterns
func ValidateIDFormat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")

		// If no ID param, skip validation
		if id == "" {
			return next(c)
		}

		// Check for invalid characters
		if strings.Contains(id, " ") {
			return BadRequestError(
				"Invalid ID format",
				"ID cannot contain spaces",
			)
		}

		// Check for minimum length
		if len(id) < 3 {
			return BadRequestError(
				"Invalid ID format",
				"ID must be at least 3 characters long",
			)
		}

		// Check for maximum length
		if len(id) > 256 {
			return BadRequestError(
				"Invalid ID format",
				"ID must not exceed 256 characters",
			)
		}

		return next(c)
	}
}

// ValidateQueryParams middleware validates common query parameters
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// limit and offset are clamped by parsePagination

		if status := c.QueryParam("status"); status != "" {
			switch models.TaskStatus(status) {
			case models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusCompleted,
				models.TaskStatusFailed, models.TaskStatusCancelled:
			default:
				return BadRequestError(
					"Invalid status parameter",
					"Status must be one of: pending, running, completed, failed, cancelled. Got: "+status,
				)
			}
		}

		return next(c)
	}
}

// ValidateContainerName middleware rejects names the container engine would refuse
func ValidateContainerName(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if name == "" {
			return next(c)
		}

		if !containerName.MatchString(name) {
			return BadRequestError(
				"Invalid container name",
				"Name must start with a letter or digit and contain only [a-zA-Z0-9_.-]. Got: "+name,
			)
		}

		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Add security headers
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("X-XSS-Protection", "1; mode=block")
		c.Response().Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		return next(c)
	}
}
