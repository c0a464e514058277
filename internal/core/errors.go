package core

import (
	"errors"
	"fmt"
)

var (
	// ErrExchangeFailed matches any *AuthError.
	ErrExchangeFailed = errors.New("token exchange failed")
	// ErrNoCredentials is returned when an access token is needed but none is held.
	ErrNoCredentials = errors.New("no credentials")

	ErrTokenRejected    = errors.New("access token rejected")
	ErrTransportFailure = errors.New("transport failure")
	ErrRequestFailed    = errors.New("request failed")

	ErrDuplicateRoute = errors.New("duplicate route")
)

// maxErrorBody caps how much of an upstream response body is kept for diagnostics.
const maxErrorBody = 512

// AuthError is returned by token endpoint calls. Status and Body are set only
// when the endpoint answered with a non-2xx status.
type AuthError struct {
	Op     string // "exchange" or "refresh"
	Status int
	Body   string
	Err    error
}

func NewAuthError(op string, status int, body []byte, err error) *AuthError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &AuthError{Op: op, Status: status, Body: string(body), Err: err}
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrExchangeFailed
}

type APIErrorKind int

const (
	// TokenRejected is an HTTP 401 from the remote API
	TokenRejected APIErrorKind = iota
	// TransportFailure is a network error or timeout with no HTTP response
	TransportFailure
	// RequestFailed is any other non-2xx status or an undecodable response
	RequestFailed
)

func (k APIErrorKind) String() string {
	switch k {
	case TokenRejected:
		return "token_rejected"
	case TransportFailure:
		return "transport_failure"
	case RequestFailed:
		return "request_failed"
	default:
		return fmt.Sprintf("APIErrorKind(%d)", int(k))
	}
}

func (k APIErrorKind) sentinel() error {
	switch k {
	case TokenRejected:
		return ErrTokenRejected
	case TransportFailure:
		return ErrTransportFailure
	default:
		return ErrRequestFailed
	}
}

// APIError is returned by remote API calls. It never carries the bearer token.
type APIError struct {
	Kind   APIErrorKind
	Call   string
	Status int
	Err    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Call, e.Kind.sentinel())
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// APIErrorResult maps an API call outcome to a metrics label.
func APIErrorResult(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind.String()
	}
	return "error"
}
