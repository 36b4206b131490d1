package accounts

import "github.com/goliatone/go-errors"

const (
	TextCodeUnauthenticated    = "accounts_unauthenticated"
	TextCodeIdentifierNotFound = "accounts_identifier_not_found"
	TextCodeInvalidCredentials = "accounts_invalid_credentials"
	TextCodeInvalidCode        = "accounts_invalid_code"
	TextCodeMissingContext     = "accounts_missing_flow_context"
	TextCodeInvalidTransition  = "accounts_invalid_flow_transition"
	TextCodeSubmissionInFlight = "accounts_submission_in_flight"
	TextCodeRequestFailed      = "accounts_request_failed"
)

// ErrUnauthenticated is returned when the backend reports no active session.
var ErrUnauthenticated = errors.New("not authenticated", errors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrIdentifierNotFound is returned when the identify step finds no account.
var ErrIdentifierNotFound = errors.New("no account for identifier", errors.CategoryNotFound).
	WithTextCode(TextCodeIdentifierNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidCredentials is returned when the backend rejects a password,
// passkey assertion, or MFA/verification code.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidCode is rejected client-side before any network call when a
// submitted one-time code has the wrong shape.
var ErrInvalidCode = errors.New("verification code has invalid format", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidCode).
	WithCode(errors.CodeBadRequest)

// ErrMissingContext is returned when a flow step is reached without the
// carry state its predecessors should have provided (e.g. a deep link).
var ErrMissingContext = errors.New("missing flow context", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingContext).
	WithCode(errors.CodeBadRequest)

// ErrInvalidTransition is returned when a requested flow step change is not
// in the transition table.
var ErrInvalidTransition = errors.New("invalid flow transition", errors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeConflict)

// ErrSubmissionInFlight guards against double submission of the same step.
var ErrSubmissionInFlight = errors.New("submission already in progress", errors.CategoryConflict).
	WithTextCode(TextCodeSubmissionInFlight).
	WithCode(errors.CodeConflict)

// ErrRequestFailed covers transport errors, timeouts, 5xx responses, and
// malformed payloads. Flows surface it as a generic retryable failure.
var ErrRequestFailed = errors.New("request failed", errors.CategoryInternal).
	WithTextCode(TextCodeRequestFailed).
	WithCode(errors.CodeInternal)

// IsUnauthenticated reports whether err is the backend's 401.
func IsUnauthenticated(err error) bool {
	return hasTextCode(err, TextCodeUnauthenticated)
}

// IsInvalidCode reports whether err is a client-side code shape rejection.
func IsInvalidCode(err error) bool {
	return hasTextCode(err, TextCodeInvalidCode)
}

// IsMissingContext reports whether err is a missing-flow-context routing error.
func IsMissingContext(err error) bool {
	return hasTextCode(err, TextCodeMissingContext)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}
