package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/eventproc"
)

const statusAccepted = "accepted"
const statusRejected = "rejected"

var validEventTypes = map[string]bool{
	eventproc.TypeSessionStart:    true,
	eventproc.TypeSessionEnd:      true,
	eventproc.TypeGitCommit:       true,
	eventproc.TypeGitPush:         true,
	eventproc.TypeGitCheckout:     true,
	eventproc.TypeGitMerge:        true,
	eventproc.TypeSystemHeartbeat: true,
}

type ingestRequest struct {
	Events []eventproc.Envelope `json:"events"`
}

func validateEnvelope(env eventproc.Envelope) error {
	if env.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !validEventTypes[env.Type] {
		return fmt.Errorf("unrecognized event type %q", env.Type)
	}
	if env.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if env.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if env.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	return nil
}

// ingestHandler handles POST /api/events/ingest. The handler's job ends at
// the durable stream: it validates each event's envelope and publishes
// valid ones via Publisher.PublishBatch, then returns. Actual event-table
// persistence, duplicate detection, and handler dispatch all happen later
// inside the consumer loop (internal/consumer), so `duplicates` is always 0
// here — true idempotency is only observable once an event has reached that
// asynchronous stage, by design (§4.2's durable decoupling of ingest from
// processing).
func (s *Server) ingestHandler(c *echo.Context) error {
	var req ingestRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body: "+err.Error())
	}
	if len(req.Events) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "events must be a non-empty array")
	}

	results := make([]ingestResult, len(req.Events))
	var ingestErrors []ingestError
	payloads := make([][]byte, 0, len(req.Events))
	payloadIndex := make([]int, 0, len(req.Events))

	for i, env := range req.Events {
		if err := validateEnvelope(env); err != nil {
			results[i] = ingestResult{Index: i, Status: statusRejected}
			ingestErrors = append(ingestErrors, ingestError{Index: i, Error: err.Error()})
			continue
		}
		payload, err := json.Marshal(env)
		if err != nil {
			results[i] = ingestResult{Index: i, Status: statusRejected}
			ingestErrors = append(ingestErrors, ingestError{Index: i, Error: "encode event: " + err.Error()})
			continue
		}
		payloads = append(payloads, payload)
		payloadIndex = append(payloadIndex, i)
	}

	var ingested, rejected int
	for _, r := range results {
		if r.Status == statusRejected {
			rejected++
		}
	}

	if len(payloads) > 0 {
		publishResults := s.publisher.PublishBatch(c.Request().Context(), payloads)
		allFailed := true
		for j, pr := range publishResults {
			i := payloadIndex[j]
			if pr.Err != nil {
				results[i] = ingestResult{Index: i, Status: statusRejected}
				ingestErrors = append(ingestErrors, ingestError{Index: i, Error: pr.Err.Error()})
				rejected++
				continue
			}
			allFailed = false
			results[i] = ingestResult{Index: i, Status: statusAccepted}
			ingested++
		}

		// All publish attempts failed: treat this as the stream transport
		// being entirely unavailable rather than per-event failures, and
		// ask the client to retry the whole batch later (§7's transient
		// storage class).
		if allFailed {
			return c.JSON(http.StatusServiceUnavailable, retryResponse{RetryAfterSeconds: 30})
		}
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		Ingested:   ingested,
		Duplicates: 0,
		Rejected:   rejected,
		Results:    results,
		Errors:     ingestErrors,
	})
}
