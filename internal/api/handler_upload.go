package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/blobstore"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// uploadTranscriptHandler handles POST /api/sessions/:id/transcript/upload.
// The body is the raw transcript (JSONL), not a multipart form — §6's upload
// endpoint is idempotent: a session that already has a transcript key simply
// reports it back rather than re-uploading.
func (s *Server) uploadTranscriptHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := c.Request().Context()
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return mapError(err)
	}

	if session.TranscriptS3Key != nil && *session.TranscriptS3Key != "" {
		return c.JSON(http.StatusOK, uploadResponse{
			Status: "already_uploaded",
			S3Key:  *session.TranscriptS3Key,
		})
	}

	workspace, err := s.workspaces.GetByID(ctx, session.WorkspaceID)
	if err != nil {
		return mapError(err)
	}

	key := blobstore.Key(workspace.CanonicalID, session.ID)
	if err := s.blobs.Upload(ctx, key, c.Request().Body); err != nil {
		return mapError(err)
	}
	if err := s.sessions.SetTranscriptRef(ctx, session.ID, key); err != nil {
		return mapError(err)
	}

	triggered := false
	if session.Lifecycle == storage.LifecycleEnded {
		s.triggerPipeline(session.ID)
		triggered = true
	}

	return c.JSON(http.StatusAccepted, uploadResponse{
		Status:            "uploaded",
		S3Key:             key,
		PipelineTriggered: triggered,
	})
}
