package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/models"
)

// listContainers handles GET /api/v1/containers
func (s *Server) listContainers(c echo.Context) error {
	containers, err := retry.Execute(c.Request().Context(), s.policy, "list containers", s.client.ListContainers)
	if err != nil {
		return err
	}

	limit, offset := parsePagination(c)
	page := paginate(containers, limit, offset)

	return c.JSON(http.StatusOK, ContainersResponse{
		Count:      len(page),
		Containers: page,
	})
}

// getContainerMetrics handles GET /api/v1/containers/:name/metrics
func (s *Server) getContainerMetrics(c echo.Context) error {
	name := c.Param("name")

	metrics, err := retry.Execute(c.Request().Context(), s.policy, "metrics "+name,
		func(ctx context.Context) (models.ContainerMetrics, error) {
			return s.client.Metrics(ctx, name)
		})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, metrics)
}
