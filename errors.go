package bluquist

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bluquist/bluquist/kvstore"
)

// APIError is a client-visible failure: an HTTP status, a stable numeric
// code and a human-readable message. Two APIErrors match under errors.Is
// when their codes are equal.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WithDetail returns a copy whose message carries an appended description.
func (e *APIError) WithDetail(detail string) *APIError {
	c := *e
	c.Message = e.Message + detail
	return &c
}

var (
	ErrNotFound             = &APIError{http.StatusNotFound, 1001, "The requested ressource was not found"}
	ErrNoJSONPayload        = &APIError{http.StatusBadRequest, 1002, "No JSON data in message body"}
	ErrMalformedPayload     = &APIError{http.StatusBadRequest, 1003, "The JSON payload was malformed: "}
	ErrMethodNotAllowed     = &APIError{http.StatusMethodNotAllowed, 1004, "Method not allowed in this context."}
	ErrBadParameter         = &APIError{http.StatusBadRequest, 1005, "Bad Parameter: "}
	ErrInvalidRequestHeader = &APIError{http.StatusBadRequest, 1006, "The request header contains invalid or contradicting fields or values."}
	ErrServiceUnavailable   = &APIError{http.StatusServiceUnavailable, 1007, "The service is temporarily unavailable, please retry later"}
	ErrTooManyRequests      = &APIError{http.StatusTooManyRequests, 1008, "Too many requests, please slow down"}

	ErrNoAuthorizationHeader      = &APIError{http.StatusUnauthorized, 1101, "No authorization header"}
	ErrSessionExpired             = &APIError{http.StatusForbidden, 1102, "Your session has expired"}
	ErrInvalidSession             = &APIError{http.StatusForbidden, 1103, "The session token provided is invalid"}
	ErrClientOriginViolation      = &APIError{http.StatusForbidden, 1104, "The request was sent from a new IP address, please login again"}
	ErrAccessDenied               = &APIError{http.StatusForbidden, 1105, "The access to this function is not allowed for the logged in user"}
	ErrInvalidAuthorizationHeader = &APIError{http.StatusForbidden, 1106, "The authorization header is invalid"}

	ErrRoleRegistrationForbidden = &APIError{http.StatusForbidden, 1000, "Only normal users can be registered using this path at the moment"}
	ErrInvalidPasswordFormat     = &APIError{http.StatusBadRequest, 1201, "Password must be at least 5 characters in length"}
	ErrMailTaken                 = &APIError{http.StatusConflict, 1202, "The e-mail is already registered in the system"}
	ErrInvalidCredentials        = &APIError{http.StatusForbidden, 1203, "Userame and password do not match any account"}
	ErrTeamNameInvalid           = &APIError{http.StatusConflict, 1204, "The team name is already registered in the system."}
	ErrLoginRateLimited          = &APIError{http.StatusTooManyRequests, 1205, "Too many failed login attempts, please try again later"}
	ErrNotTeamAdmin              = &APIError{http.StatusForbidden, 1206, "Only team administrators may perform this action"}
	ErrNotTeamMember             = &APIError{http.StatusNotFound, 1207, "The user is not a member of this team"}
	ErrInvalidServiceAssertion   = &APIError{http.StatusForbidden, 1208, "The service assertion is invalid"}

	ErrInternal = &APIError{http.StatusInternalServerError, -1, "The service encountered an unforeseen server error."}
)

// MalformedPayload reports a payload that failed validation.
func MalformedPayload(description string) *APIError {
	return ErrMalformedPayload.WithDetail(description)
}

// BadParameter reports an invalid path or query parameter.
func BadParameter(description string) *APIError {
	return ErrBadParameter.WithDetail(description)
}

// ToAPIError maps err onto the client-visible taxonomy. Store outages become
// ErrServiceUnavailable; anything unrecognized becomes ErrInternal.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, kvstore.ErrUnavailable) {
		return ErrServiceUnavailable
	}
	return ErrInternal
}

// Record store errors returned by UserStore and TeamStore implementations.
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")
)
