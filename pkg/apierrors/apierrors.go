// Package apierrors implements the error taxonomy from spec §7 as typed
// values, so service code can construct a precise error and the HTTP/
// GraphQL adapter can map it to the wire shape without re-deriving intent
// from a plain string.
package apierrors

import "fmt"

// Kind names one of the authoritative error kinds.
type Kind string

const (
	KindCredentialMissing   Kind = "CredentialMissing"
	KindUnauthenticated     Kind = "UnauthenticatedError"
	KindUnauthorized        Kind = "UnauthorizedError"
	KindJwtTokenExpired     Kind = "JwtTokenExpiredError"
	KindWrongCredentialType Kind = "WrongCredentialType"
	KindRequest             Kind = "RequestError"
	KindWs                  Kind = "WsError"
	KindAsyncGraphql        Kind = "AsyncGraphqlError"
	KindStorage             Kind = "StorageError"
	KindMessaging           Kind = "MessagingError"
	KindValidation          Kind = "ValidationError"
	KindSerialization       Kind = "SerializationError"
	KindIO                  Kind = "IOError"
	KindDocker              Kind = "DockerError"
	KindHashing             Kind = "HashingError"
	KindJWT                 Kind = "JWTError"
	KindConversion          Kind = "ConversionError"
)

// FieldErrors is the per-field error list in a ValidationError's structured
// payload.
type FieldErrors struct {
	Errors []string `json:"errors"`
}

// ValidationDetail is the `{errors:[], properties:{field:{errors:[...]}}}`
// shape spec §7 specifies for ValidationError.
type ValidationDetail struct {
	Errors     []string               `json:"errors"`
	Properties map[string]FieldErrors `json:"properties"`
}

// Error is the concrete error type every taxonomy kind is expressed as.
// Two Errors are equal for errors.Is purposes iff they share a Kind —
// callers match on Kind, not message text or identity, so a freshly
// constructed ErrUnauthenticated-kind error still satisfies
// errors.Is(err, apierrors.ErrUnauthenticated).
type Error struct {
	Kind       Kind
	Message    string
	Validation *ValidationDetail
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is implements the errors.Is hook, matching on Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an Error of the given kind with a literal message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidation constructs a ValidationError carrying the structured detail
// the wire contract requires.
func NewValidation(errs []string, properties map[string]FieldErrors) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "validation failed",
		Validation: &ValidationDetail{
			Errors:     errs,
			Properties: properties,
		},
	}
}

// Sentinel instances for errors.Is matching; every other call site
// constructs its own *Error of the same Kind with a specific message.
var (
	ErrCredentialMissing   = New(KindCredentialMissing, "credential missing")
	ErrUnauthenticated     = New(KindUnauthenticated, "unauthenticated")
	ErrUnauthorized        = New(KindUnauthorized, "unauthorized")
	ErrJwtTokenExpired     = New(KindJwtTokenExpired, "jwt token expired")
	ErrWrongCredentialType = New(KindWrongCredentialType, "wrong credential type")
)

// AsyncGraphqlErrorf constructs a formatted AsyncGraphqlError — the kind
// pipeline-service boundary failures (already-assigned, cannot-update) are
// reported as.
func AsyncGraphqlErrorf(format string, args ...any) error {
	return Newf(KindAsyncGraphql, format, args...)
}

// StorageErrorf constructs a formatted StorageError.
func StorageErrorf(format string, args ...any) error {
	return Newf(KindStorage, format, args...)
}

// MessagingErrorf constructs a formatted MessagingError.
func MessagingErrorf(format string, args ...any) error {
	return Newf(KindMessaging, format, args...)
}
