package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy-telemetry/internal/blobstore"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/identity"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/lifecycle"
	"github.com/codeready-toolchain/tarsy-telemetry/internal/storage"
)

// validationError marks a request as malformed per §7's validation class
// (400), distinct from the domain sentinel errors mapped below.
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func newValidationError(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// mapError maps a handler's returned error to an HTTP response, following
// §7's error taxonomy: validation → 400, not-found → 404, lifecycle
// conflicts → 409 surfaced with the session's current state, identity-store
// outage → 503, anything else → a generic 500 that never leaks internals.
func mapError(err error) *echo.HTTPError {
	var verr *validationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	}
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, blobstore.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "transcript not found")
	}
	if errors.Is(err, lifecycle.ErrNoMatch) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, identity.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "identity store temporarily unavailable")
	}

	slog.Error("unexpected api error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
