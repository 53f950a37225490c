package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// We only test parameter/body validation here, which returns before the
// handler touches any repository — happy-path behavior needs a real
// database and is covered by the storage package's integration tests.

func TestListSessionsHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{"invalid lifecycle", "lifecycle=not-a-real-state", "invalid lifecycle"},
		{"invalid cursor", "cursor=not-base64!!", "invalid cursor"},
		{"limit too high", "limit=10000", "invalid limit"},
		{"limit zero", "limit=0", "invalid limit"},
		{"limit not a number", "limit=abc", "invalid limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/sessions?"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := s.listSessionsHandler(c)
			require.Error(t, err)
			he, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, tt.errMsg)
		})
	}
}

func TestPatchSessionHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		id     string
		body   string
		errMsg string
	}{
		{"missing id", "", `{"summary":"x"}`, "session id is required"},
		{"malformed body", "s1", `not json`, "malformed request body"},
		{"empty body", "s1", `{}`, "one of summary, tags, add_tags, remove_tags is required"},
		{"summary and tags both set", "s1", `{"summary":"x","tags":["a"]}`, "mutually exclusive"},
		{"two tag fields set", "s1", `{"add_tags":["a"],"remove_tags":["b"]}`, "exactly one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPatch, "/api/sessions/"+tt.id, bytes.NewReader([]byte(tt.body)))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.id)

			err := s.patchSessionHandler(c)
			require.Error(t, err)
			he, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, he.Code)
			assert.Contains(t, he.Message, tt.errMsg)
		})
	}
}

func TestSessionTimelineHandler_Validation(t *testing.T) {
	s := &Server{}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/timeline?limit=-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("s1")

	err := s.sessionTimelineHandler(c)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}
