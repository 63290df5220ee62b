package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/anchor/models"
)

// listTasks handles GET /api/v1/tasks
func (s *Server) listTasks(c echo.Context) error {
	tasks := s.cluster.Scheduler().List()

	if status := c.QueryParam("status"); status != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Status == models.TaskStatus(status) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if kind := c.QueryParam("kind"); kind != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Kind == models.TaskKind(kind) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	limit, offset := parsePagination(c)
	page := paginate(tasks, limit, offset)

	return c.JSON(http.StatusOK, TasksResponse{
		Count: len(page),
		Total: len(tasks),
		Tasks: page,
	})
}

// getTaskStatistics handles GET /api/v1/tasks/stats
func (s *Server) getTaskStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cluster.Scheduler().Statistics())
}

// getTask handles GET /api/v1/tasks/:id
func (s *Server) getTask(c echo.Context) error {
	id := c.Param("id")
	info, ok := s.cluster.Scheduler().Get(id)
	if !ok {
		return NotFoundError("Task", id)
	}
	return c.JSON(http.StatusOK, info)
}

// cancelTask handles DELETE /api/v1/tasks/:id
func (s *Server) cancelTask(c echo.Context) error {
	id := c.Param("id")
	sched := s.cluster.Scheduler()

	info, ok := sched.Get(id)
	if !ok {
		return NotFoundError("Task", id)
	}
	if info.Status.IsTerminal() {
		return ConflictError("Task already finished", "task "+id+" is "+string(info.Status))
	}

	sched.Cancel(id)
	return c.JSON(http.StatusAccepted, MessageResponse{Message: "cancellation requested", ID: id})
}
