package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/odyssey-erp/identity/internal/shared"
)

// storeRetryAfter is advertised to clients when the backing store is unavailable.
const storeRetryAfter = 5 * time.Second

// RespondError maps domain errors to RFC7807 responses. Unknown errors become
// a bare 500 so store details never reach the client.
func RespondError(w http.ResponseWriter, err error) {
	var (
		verr   *shared.ValidationError
		locked *shared.LockedOutError
	)
	switch {
	case errors.As(err, &verr):
		writeProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: "One or more fields are invalid.",
			Errors: verr.Fields,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", "")
	case errors.As(err, &locked):
		retry := locked.RetryAfter(time.Now())
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		until := locked.Until.UTC()
		writeProblem(w, ProblemDetail{
			Title:       "Locked Out",
			Status:      http.StatusLocked,
			Detail:      "This account has been locked out, please try again later.",
			LockedUntil: &until,
		})
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid login attempt.")
	case errors.Is(err, shared.ErrDuplicateEmail):
		Problem(w, http.StatusConflict, "Duplicate", "Email is already in use.")
	case errors.Is(err, shared.ErrDuplicateRole):
		Problem(w, http.StatusConflict, "Duplicate", "Role already exists.")
	case errors.Is(err, shared.ErrAlreadyAssigned):
		Problem(w, http.StatusConflict, "Duplicate", "Role is already assigned to the user.")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrCSRFTokenMissing), errors.Is(err, shared.ErrCSRFTokenMismatch):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", strconv.Itoa(int(storeRetryAfter/time.Second)))
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "Please retry shortly.")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
