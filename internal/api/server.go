// Package api implements the HTTP surface of the telemetry pipeline: event
// ingest, transcript upload, the read-only session/workspace/device/timeline
// endpoints, git-hooks prompts, and the WebSocket event feed. Structurally
// grounded on the teacher's pkg/api package: a single Server struct wired
// through Set*-style constructors and a ValidateWiring pass, echo/v5 route
// groups, and a shared mapError helper in place of its mapServiceError.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/broadcast"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/consumer"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/stream"
	"github.com/codeready-toolchain/tarsy-telemetry/pkg/version"
)

// maxIngestBodyBytes is §6's event-ingest batch body cap.
const maxIngestBodyBytes = 1 << 20 // 1 MB

// maxUploadBodyBytes is §6's raw transcript upload body cap.
const maxUploadBodyBytes = 200 << 20 // 200 MB

// Publisher is the subset of internal/stream.Transport the ingest handler
// needs, narrowed so handler tests never touch Redis.
type Publisher interface {
	PublishBatch(ctx context.Context, payloads [][]byte) []stream.PublishResult
}

// Uploader is the subset of internal/blobstore.Client the upload handler
// needs.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// PipelineTrigger starts the transcript pipeline for a session without
// blocking the caller, mirroring internal/eventproc.PipelineTrigger — kept as
// a distinct type here so this package doesn't need to import eventproc just
// for a function shape. Bound to *transcript.Pipeline.Run by main.
type PipelineTrigger func(sessionID string)

// ConsumerStats is the subset of internal/consumer.Consumer the health
// handler needs.
type ConsumerStats interface {
	Stats() consumer.Stats
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	startedAt  time.Time
	apiKey     string

	db          *sql.DB
	sessions    *storage.SessionRepository
	workspaces  *storage.WorkspaceRepository
	devices     *storage.DeviceRepository
	events      *storage.EventRepository
	gitActivity *storage.GitActivityRepository

	publisher       Publisher
	blobs           Uploader
	broadcaster     *broadcast.Manager
	triggerPipeline PipelineTrigger

	consumerStats ConsumerStats // nil until SetConsumerStats is called
}

// NewServer wires the core, always-required dependencies and registers
// routes. Optional observability dependencies are attached afterward via
// Set* methods, same as the teacher's health-monitor/warnings wiring.
func NewServer(
	apiKey string,
	db *sql.DB,
	sessions *storage.SessionRepository,
	workspaces *storage.WorkspaceRepository,
	devices *storage.DeviceRepository,
	events *storage.EventRepository,
	gitActivity *storage.GitActivityRepository,
	publisher Publisher,
	blobs Uploader,
	broadcaster *broadcast.Manager,
	triggerPipeline PipelineTrigger,
) *Server {
	s := &Server{
		echo:            echo.New(),
		startedAt:       time.Now(),
		apiKey:          apiKey,
		db:              db,
		sessions:        sessions,
		workspaces:      workspaces,
		devices:         devices,
		events:          events,
		gitActivity:     gitActivity,
		publisher:       publisher,
		blobs:           blobs,
		broadcaster:     broadcaster,
		triggerPipeline: triggerPipeline,
	}
	s.setupRoutes()
	return s
}

// SetConsumerStats wires the consumer loop's liveness indicator into the
// health endpoint. Optional: a nil consumerStats simply omits the "stream"
// check.
func (s *Server) SetConsumerStats(c ConsumerStats) {
	s.consumerStats = c
}

// ValidateWiring checks that every required dependency was supplied, so a
// wiring gap at startup fails loudly instead of surfacing as a nil-pointer
// panic on the first request.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.apiKey == "" {
		errs = append(errs, fmt.Errorf("apiKey not set"))
	}
	if s.db == nil {
		errs = append(errs, fmt.Errorf("db not set"))
	}
	if s.sessions == nil {
		errs = append(errs, fmt.Errorf("sessions repository not set"))
	}
	if s.workspaces == nil {
		errs = append(errs, fmt.Errorf("workspaces repository not set"))
	}
	if s.devices == nil {
		errs = append(errs, fmt.Errorf("devices repository not set"))
	}
	if s.events == nil {
		errs = append(errs, fmt.Errorf("events repository not set"))
	}
	if s.gitActivity == nil {
		errs = append(errs, fmt.Errorf("git activity repository not set"))
	}
	if s.publisher == nil {
		errs = append(errs, fmt.Errorf("publisher not set"))
	}
	if s.blobs == nil {
		errs = append(errs, fmt.Errorf("blob uploader not set"))
	}
	if s.broadcaster == nil {
		errs = append(errs, fmt.Errorf("broadcaster not set"))
	}
	if s.triggerPipeline == nil {
		errs = append(errs, fmt.Errorf("pipeline trigger not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	// Unauthenticated: liveness/readiness probes must never require a
	// bearer token, or an orchestrator's own health check becomes a 401.
	s.echo.GET("/api/health", s.healthHandler)

	api := s.echo.Group("/api")
	api.Use(bearerAuth(s.apiKey))

	api.POST("/events/ingest", s.ingestHandler, middleware.BodyLimit(maxIngestBodyBytes))
	api.POST("/sessions/:id/transcript/upload", s.uploadTranscriptHandler, middleware.BodyLimit(maxUploadBodyBytes))

	api.GET("/sessions", s.listSessionsHandler)
	api.GET("/sessions/:id", s.getSessionHandler)
	api.PATCH("/sessions/:id", s.patchSessionHandler)
	api.GET("/sessions/:id/timeline", s.sessionTimelineHandler)
	api.GET("/sessions/:id/git", s.sessionGitActivityHandler)

	api.GET("/workspaces", s.listWorkspacesHandler)
	api.GET("/workspaces/:id", s.getWorkspaceHandler)
	api.GET("/workspaces/:id/timeline", s.workspaceTimelineHandler)

	api.GET("/devices", s.listDevicesHandler)
	api.GET("/devices/:id", s.getDeviceHandler)

	api.GET("/prompts/pending", s.pendingPromptsHandler)
	api.POST("/prompts/dismiss", s.dismissPromptHandler)

	// Not under /api: authenticated via its own ?token= query param against
	// the broadcaster's configured secret, not the bearer-token middleware
	// above (§6's ws://.../ws?token=...).
	s.echo.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used by
// test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /api/health. Unauthenticated, so it reports only
// tarsy-telemetry's own components (§9 supplemented health fields).
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]HealthCheck{}
	status := "healthy"

	if _, err := storage.Health(reqCtx, s.db); err != nil {
		status = "unhealthy"
		checks["db"] = HealthCheck{Status: "unhealthy", Message: err.Error()}
	} else {
		checks["db"] = HealthCheck{Status: "healthy"}
	}

	if s.consumerStats != nil {
		lastRead := s.consumerStats.Stats().LastRead
		lag := time.Since(lastRead)
		if lastRead.IsZero() {
			checks["stream"] = HealthCheck{Status: "healthy", Message: "no reads yet"}
		} else if lag > time.Minute {
			if status == "healthy" {
				status = "degraded"
			}
			checks["stream"] = HealthCheck{Status: "degraded", Message: fmt.Sprintf("consumer lag %s", lag.Round(time.Second))}
		} else {
			checks["stream"] = HealthCheck{Status: "healthy"}
		}
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:        status,
		Checks:        checks,
		WSClients:     s.broadcaster.ActiveConnections(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Version:       version.Full(),
	})
}
