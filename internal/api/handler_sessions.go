package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

const defaultPageLimit = 50

// parseSessionListFilter parses GET /api/sessions's query-param filter set
// (the timeline handlers parse their own limit/cursor), following the teacher's
// parse-then-validate-with-a-switch pattern from listSessionsHandler.
func parseSessionListFilter(c *echo.Context) (storage.SessionListFilter, error) {
	var f storage.SessionListFilter

	if v := c.QueryParam("workspace_id"); v != "" {
		f.WorkspaceID = &v
	}
	if v := c.QueryParam("device_id"); v != "" {
		f.DeviceID = &v
	}
	if v := c.QueryParam("lifecycle"); v != "" {
		lc := storage.Lifecycle(v)
		switch lc {
		case storage.LifecycleDetected, storage.LifecycleCapturing, storage.LifecycleEnded,
			storage.LifecycleParsed, storage.LifecycleSummarized, storage.LifecycleArchived, storage.LifecycleFailed:
			f.Lifecycle = &lc
		default:
			return f, newValidationError("invalid lifecycle: %s", v)
		}
	}
	if v := c.QueryParam("tag"); v != "" {
		f.Tag = &v
	}
	if v := c.QueryParam("cursor"); v != "" {
		cur, err := storage.DecodeCursor(v)
		if err != nil {
			return f, newValidationError("invalid cursor")
		}
		f.Cursor = &cur
	}

	f.Limit = defaultPageLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return f, newValidationError("invalid limit: must be 1..500")
		}
		f.Limit = n
	}
	return f, nil
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filter, err := parseSessionListFilter(c)
	if err != nil {
		return mapError(err)
	}

	// Fetch one extra row to detect has_more without a second count query.
	probe := filter
	probe.Limit = filter.Limit + 1
	sessions, err := s.sessions.List(c.Request().Context(), probe)
	if err != nil {
		return mapError(err)
	}

	hasMore := len(sessions) > filter.Limit
	if hasMore {
		sessions = sessions[:filter.Limit]
	}

	items := make([]sessionDTO, len(sessions))
	for i, sess := range sessions {
		items[i] = toSessionDTO(sess)
	}

	resp := page[sessionDTO]{Items: items, HasMore: hasMore}
	if hasMore {
		last := sessions[len(sessions)-1]
		cursor, err := storage.EncodeCursor(storage.Cursor{Timestamp: last.StartedAt, ID: last.ID})
		if err != nil {
			return mapError(err)
		}
		resp.NextCursor = cursor
	}
	return c.JSON(http.StatusOK, resp)
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	sess, err := s.sessions.GetByID(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toSessionDTO(*sess))
}

// patchSessionRequest is PATCH /api/sessions/:id's body: either a summary
// update, or exactly one of a tag mutation (§6).
type patchSessionRequest struct {
	Summary    *string  `json:"summary"`
	Tags       []string `json:"tags"`
	AddTags    []string `json:"add_tags"`
	RemoveTags []string `json:"remove_tags"`
}

// patchSessionHandler handles PATCH /api/sessions/:id.
func (s *Server) patchSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req patchSessionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body: "+err.Error())
	}

	tagFields := 0
	if req.Tags != nil {
		tagFields++
	}
	if req.AddTags != nil {
		tagFields++
	}
	if req.RemoveTags != nil {
		tagFields++
	}
	if req.Summary != nil && tagFields > 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "summary and tag mutations are mutually exclusive")
	}
	if tagFields > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of tags, add_tags, remove_tags is allowed")
	}
	if req.Summary == nil && tagFields == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "one of summary, tags, add_tags, remove_tags is required")
	}

	ctx := c.Request().Context()
	var err error
	switch {
	case req.Summary != nil:
		err = s.sessions.SetSummary(ctx, id, *req.Summary)
	case req.Tags != nil:
		err = s.sessions.UpdateTags(ctx, id, req.Tags)
	case req.AddTags != nil:
		err = s.sessions.AddTags(ctx, id, req.AddTags)
	case req.RemoveTags != nil:
		err = s.sessions.RemoveTags(ctx, id, req.RemoveTags)
	}
	if err != nil {
		return mapError(err)
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toSessionDTO(*sess))
}

// sessionTimelineHandler handles GET /api/sessions/:id/timeline.
func (s *Server) sessionTimelineHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
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

	events, err := s.events.ListBySession(c.Request().Context(), id, cursor, limit+1)
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
		cursor, err := storage.EncodeCursor(storage.Cursor{Timestamp: last.Timestamp, ID: last.ID})
		if err != nil {
			return mapError(err)
		}
		resp.NextCursor = cursor
	}
	return c.JSON(http.StatusOK, resp)
}

// sessionGitActivityHandler handles GET /api/sessions/:id/git.
func (s *Server) sessionGitActivityHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	activity, err := s.gitActivity.ListBySession(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	items := make([]gitActivityDTO, len(activity))
	for i, g := range activity {
		items[i] = toGitActivityDTO(g)
	}
	return c.JSON(http.StatusOK, page[gitActivityDTO]{Items: items})
}
