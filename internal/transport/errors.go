package transport

import (
	"errors"
	"net/http"

	"github.com/go-mizu/dgsync/internal/chunkstream"
	"github.com/go-mizu/dgsync/internal/syncengine"
)

// Machine-readable error codes, one per spec §7 error kind.
const (
	CodeRowConflict        = "ROW_CONFLICT"
	CodeRowMissing         = "ROW_MISSING"
	CodeScopeViolation     = "SCOPE_VIOLATION"
	CodeSubscriptionRevoked = "SUBSCRIPTION_REVOKED"
	CodeForceBootstrap     = "FORCE_BOOTSTRAP"
	CodeTransportFailure   = "TRANSPORT_FAILURE"
	CodeIntegrityFailure   = "INTEGRITY_FAILURE"
	CodePluginFailure      = "PLUGIN_FAILURE"
	CodeInvalid            = "INVALID_REQUEST"
	CodeInternal           = "INTERNAL"
)

// MapError translates an engine or transport error into an HTTP status
// and machine-readable code.
func MapError(err error) (int, string) {
	switch {
	case errors.Is(err, syncengine.ErrRowConflict):
		return http.StatusConflict, CodeRowConflict
	case errors.Is(err, syncengine.ErrRowMissing):
		return http.StatusNotFound, CodeRowMissing
	case errors.Is(err, syncengine.ErrScopeViolation):
		return http.StatusForbidden, CodeScopeViolation
	case errors.Is(err, syncengine.ErrSubscriptionRevoked):
		return http.StatusForbidden, CodeSubscriptionRevoked
	case errors.Is(err, syncengine.ErrCursorTooOld):
		return http.StatusGone, CodeForceBootstrap
	case errors.Is(err, syncengine.ErrInvalidMutation):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, syncengine.ErrPluginFailure):
		return http.StatusBadGateway, CodePluginFailure
	case errors.Is(err, chunkstream.ErrIntegrityFailure):
		return http.StatusUnprocessableEntity, CodeIntegrityFailure
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
