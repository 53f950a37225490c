package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/eventproc"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/stream"
)

// fakePublisher lets ingestHandler tests control PublishBatch's per-event
// outcomes without a real Redis transport.
type fakePublisher struct {
	results []stream.PublishResult
}

func (f *fakePublisher) PublishBatch(ctx context.Context, payloads [][]byte) []stream.PublishResult {
	if f.results != nil {
		return f.results
	}
	out := make([]stream.PublishResult, len(payloads))
	for i := range payloads {
		out[i] = stream.PublishResult{StreamID: "1-0"}
	}
	return out
}

func validEnvelope(id string) eventproc.Envelope {
	return eventproc.Envelope{
		ID:          id,
		Type:        eventproc.TypeSessionStart,
		Timestamp:   time.Now(),
		WorkspaceID: "ws-1",
		DeviceID:    "dev-1",
		Data:        json.RawMessage(`{"foo":"bar"}`),
	}
}

func newIngestContext(t *testing.T, body []byte) (*echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/events/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestIngestHandler_MalformedBody(t *testing.T) {
	s := &Server{publisher: &fakePublisher{}}
	c, _ := newIngestContext(t, []byte("not json"))

	err := s.ingestHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestIngestHandler_EmptyEventsArray(t *testing.T) {
	s := &Server{publisher: &fakePublisher{}}
	body, _ := json.Marshal(ingestRequest{Events: nil})
	c, _ := newIngestContext(t, body)

	err := s.ingestHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Contains(t, he.Message, "non-empty array")
}

func TestIngestHandler_AllAccepted(t *testing.T) {
	s := &Server{publisher: &fakePublisher{}}
	body, _ := json.Marshal(ingestRequest{Events: []eventproc.Envelope{validEnvelope("a"), validEnvelope("b")}})
	c, rec := newIngestContext(t, body)

	require.NoError(t, s.ingestHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Ingested)
	assert.Equal(t, 0, resp.Duplicates, "duplicates is always 0 at ingest time; see handler_ingest.go doc comment")
	assert.Equal(t, 0, resp.Rejected)
}

func TestIngestHandler_InvalidEnvelopeRejectedIndividually(t *testing.T) {
	s := &Server{publisher: &fakePublisher{}}
	invalid := validEnvelope("bad")
	invalid.WorkspaceID = ""
	body, _ := json.Marshal(ingestRequest{Events: []eventproc.Envelope{validEnvelope("good"), invalid}})
	c, rec := newIngestContext(t, body)

	require.NoError(t, s.ingestHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code, "a batch with at least one valid event is still 202")

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Ingested)
	assert.Equal(t, 1, resp.Rejected)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
}

func TestIngestHandler_UnrecognizedType(t *testing.T) {
	s := &Server{publisher: &fakePublisher{}}
	bad := validEnvelope("bad-type")
	bad.Type = "not.a.real.type"
	body, _ := json.Marshal(ingestRequest{Events: []eventproc.Envelope{bad}})
	c, rec := newIngestContext(t, body)

	require.NoError(t, s.ingestHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Ingested)
	assert.Equal(t, 1, resp.Rejected)
}

func TestIngestHandler_AllPublishesFailReturns503(t *testing.T) {
	s := &Server{publisher: &fakePublisher{
		results: []stream.PublishResult{{Err: assertErr("redis unavailable")}},
	}}
	body, _ := json.Marshal(ingestRequest{Events: []eventproc.Envelope{validEnvelope("a")}})
	c, rec := newIngestContext(t, body)

	require.NoError(t, s.ingestHandler(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp retryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.RetryAfterSeconds)
}

func TestIngestHandler_PartialPublishFailureStillAccepted(t *testing.T) {
	s := &Server{publisher: &fakePublisher{
		results: []stream.PublishResult{
			{StreamID: "1-0"},
			{Err: assertErr("one redis write failed")},
		},
	}}
	body, _ := json.Marshal(ingestRequest{Events: []eventproc.Envelope{validEnvelope("a"), validEnvelope("b")}})
	c, rec := newIngestContext(t, body)

	require.NoError(t, s.ingestHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Ingested)
	assert.Equal(t, 1, resp.Rejected)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
