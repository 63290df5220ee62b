package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// parsePagination parses limit and offset from query parameters.
// Default limit is 100, default offset is 0.
// Maximum limit is 1000 to prevent excessive memory usage.
func parsePagination(c echo.Context) (limit, offset int) {
	// Parse limit with default of 100
	limit = 100
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
			// Cap at 1000
			if limit > 1000 {
				limit = 1000
			}
		}
	}

	// Parse offset with default of 0
	offset = 0
	if offsetParam := c.QueryParam("offset"); offsetParam != "" {
		if parsed, err := strconv.Atoi(offsetParam); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// paginate returns the page of items selected by limit and offset.
func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}

	end := offset + limit
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end]
}
