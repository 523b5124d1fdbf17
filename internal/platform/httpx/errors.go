package httpx

import (
	"errors"
	"net/http"

	"github.com/engagetrack/engagetrack/internal/shared"
)

// RespondError maps directory errors to HTTP responses. Policy denials and
// invariant violations surface their reason verbatim; everything else is
// collapsed so backend errors never leak.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Permission Denied", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvariantViolation):
		Problem(w, http.StatusConflict, "Invariant Violation", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrAlreadyInState):
		Problem(w, http.StatusConflict, "Already In State", shared.UserSafeMessage(err))
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(err))
	}
}
