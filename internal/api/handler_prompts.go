package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// pendingPromptsHandler handles GET /api/prompts/pending?device_id=....
func (s *Server) pendingPromptsHandler(c *echo.Context) error {
	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device_id is required")
	}

	links, err := s.devices.ListPendingGitHooksPrompts(c.Request().Context(), deviceID)
	if err != nil {
		return mapError(err)
	}

	items := make([]pendingPromptDTO, 0, len(links))
	for _, l := range links {
		if l.GitHooksInstalled || l.GitHooksPrompted {
			continue
		}
		items = append(items, pendingPromptDTO{
			WorkspaceID: l.WorkspaceID,
			DeviceID:    l.DeviceID,
			LocalPath:   l.LocalPath,
		})
	}
	return c.JSON(http.StatusOK, page[pendingPromptDTO]{Items: items})
}

type dismissPromptRequest struct {
	WorkspaceID string `json:"workspace_id"`
	DeviceID    string `json:"device_id"`
	Action      string `json:"action"`
}

// dismissPromptHandler handles POST /api/prompts/dismiss.
func (s *Server) dismissPromptHandler(c *echo.Context) error {
	var req dismissPromptRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body: "+err.Error())
	}
	if req.WorkspaceID == "" || req.DeviceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workspace_id and device_id are required")
	}

	ctx := c.Request().Context()
	switch req.Action {
	case "accepted":
		if err := s.devices.MarkGitHooksInstalled(ctx, req.WorkspaceID, req.DeviceID); err != nil {
			return mapError(err)
		}
	case "declined":
		if err := s.devices.MarkGitHooksDeclined(ctx, req.WorkspaceID, req.DeviceID); err != nil {
			return mapError(err)
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be \"accepted\" or \"declined\"")
	}

	return c.NoContent(http.StatusOK)
}
