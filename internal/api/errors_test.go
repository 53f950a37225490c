package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/blobstore"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/identity"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation error", newValidationError("bad field %s", "x"), http.StatusBadRequest},
		{"storage not found", storage.ErrNotFound, http.StatusNotFound},
		{"wrapped storage not found", errors.Join(errors.New("context"), storage.ErrNotFound), http.StatusNotFound},
		{"blobstore not found", blobstore.ErrNotFound, http.StatusNotFound},
		{"lifecycle no match", lifecycle.ErrNoMatch, http.StatusConflict},
		{"identity unavailable", identity.ErrUnavailable, http.StatusServiceUnavailable},
		{"unknown error", errors.New("something broke"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapError(tt.err)
			assert.Equal(t, tt.want, he.Code)
		})
	}
}

func TestMapError_InternalErrorDoesNotLeakDetails(t *testing.T) {
	he := mapError(errors.New("pq: password authentication failed for user \"admin\""))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.NotContains(t, he.Message, "password")
}
