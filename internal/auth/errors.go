package auth

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the auth core reports to its callers.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason narrows an authentication failure so the HTTP layer can pick a
// status and message.
type Reason string

const (
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonMissingToken       Reason = "missing_token"
	ReasonTokenExpired       Reason = "token_expired"
	ReasonTokenInvalid       Reason = "token_invalid"
	ReasonSessionUnknown     Reason = "session_unknown"
	ReasonWrongPassword      Reason = "wrong_password"
)

// Error is the single error type returned by the auth core for
// caller-visible failures. Infrastructure failures are returned unwrapped.
type Error struct {
	Kind   Kind
	Reason Reason
	// Field names the conflicting attribute or the missing resource.
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and, when set on the target, Reason and Field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Reason != "" && t.Reason != e.Reason {
		return false
	}
	if t.Field != "" && t.Field != e.Field {
		return false
	}
	return true
}

// Conflict reports that field is already taken by another account.
func Conflict(field string) *Error {
	return &Error{Kind: KindConflict, Field: field, Message: field + " already exists"}
}

// Unauthenticated reports a failed credential or token check.
func Unauthenticated(reason Reason, err error) *Error {
	return &Error{Kind: KindAuthentication, Reason: reason, Message: reason.message(), Err: err}
}

// NotFound reports that the named resource does not exist.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Field: what, Message: what + " not found"}
}

// Invalid reports malformed input.
func Invalid(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	authErr, ok := AsError(err)
	return ok && authErr.Kind == kind
}

func (r Reason) message() string {
	switch r {
	case ReasonInvalidCredentials:
		return "invalid credentials"
	case ReasonMissingToken:
		return "missing bearer token"
	case ReasonTokenExpired:
		return "token expired"
	case ReasonTokenInvalid:
		return "invalid token"
	case ReasonSessionUnknown:
		return "invalid refresh token"
	case ReasonWrongPassword:
		return "current password is incorrect"
	default:
		return "unauthorized"
	}
}
