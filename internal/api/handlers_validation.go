package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/internal/manifest"
	"evalgo.org/anchor/internal/validation"
)

// getManifest handles GET /api/v1/manifest
func (s *Server) getManifest(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cluster.Manifest())
}

// validateManifest handles POST /api/v1/manifest/validate
func (s *Server) validateManifest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return BadRequestError("Failed to read request body", err.Error())
	}

	result, err := validation.New().ValidateManifest(body, manifest.FormatJSON)
	if err != nil {
		return err
	}

	if result.Valid {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusBadRequest, result)
}
