package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// listWorkspacesHandler handles GET /api/workspaces.
func (s *Server) listWorkspacesHandler(c *echo.Context) error {
	limit := defaultPageLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1..500")
		}
		limit = n
	}

	workspaces, err := s.workspaces.List(c.Request().Context(), limit)
	if err != nil {
		return mapError(err)
	}
	items := make([]workspaceDTO, len(workspaces))
	for i, w := range workspaces {
		items[i] = toWorkspaceDTO(w)
	}
	return c.JSON(http.StatusOK, page[workspaceDTO]{Items: items})
}

// getWorkspaceHandler handles GET /api/workspaces/:id.
func (s *Server) getWorkspaceHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace id is required")
	}
	w, err := s.workspaces.GetByID(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toWorkspaceDTO(*w))
}

// workspaceTimelineHandler handles GET /api/workspaces/:id/timeline.
func (s *Server) workspaceTimelineHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace id is required")
	}

	limit := defaultPageLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be 1..500")
		}
		limit = n
	}
	var cursor *storage.Cursor
	if v := c.QueryParam("cursor"); v != "" {
		cur, err := storage.DecodeCursor(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
		}
		cursor = &cur
	}

	events, err := s.events.ListByWorkspace(c.Request().Context(), id, cursor, limit+1)
	if err != nil {
		return mapError(err)
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	items := make([]eventDTO, len(events))
	for i, e := range events {
		items[i] = toEventDTO(e)
	}
	resp := page[eventDTO]{Items: items, HasMore: hasMore}
	if hasMore {
		last := events[len(events)-1]
		cur, err := storage.EncodeCursor(storage.Cursor{Timestamp: last.Timestamp, ID: last.ID})
		if err != nil {
			return mapError(err)
		}
		resp.NextCursor = cur
	}
	return c.JSON(http.StatusOK, resp)
}
