package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a gateway fetch failed.
type Kind string

// Failure kinds, in pipeline order.
const (
	KindMalformedURL        Kind = "malformed_url"
	KindUnsupportedProtocol Kind = "unsupported_protocol"
	KindBlockedHost         Kind = "blocked_host"
	KindBlockedAddress      Kind = "blocked_address"
	KindRobotsDisallowed    Kind = "robots_disallowed"
	KindUpstreamError       Kind = "upstream_error"
	KindRequestTimeout      Kind = "request_timeout"
	KindInternalError       Kind = "internal_error"
)

// ErrRedirectProtocol is returned when a redirect leaves the allowed schemes.
var ErrRedirectProtocol = errors.New("redirect to unsupported protocol")

// Error is the terminal failure of a gateway fetch. Message is safe to return
// to callers; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a gateway Error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

func malformedURL(err error) *Error {
	return &Error{Kind: KindMalformedURL, Status: http.StatusBadRequest, Message: "Invalid URL", Err: err}
}

func unsupportedProtocol(scheme string, err error) *Error {
	return &Error{
		Kind:    KindUnsupportedProtocol,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("Unsupported protocol: %s", scheme),
		Err:     err,
	}
}

func blockedHost(err error) *Error {
	return &Error{Kind: KindBlockedHost, Status: http.StatusInternalServerError, Message: "Blocked host", Err: err}
}

func blockedAddress(err error) *Error {
	return &Error{
		Kind:    KindBlockedAddress,
		Status:  http.StatusInternalServerError,
		Message: "Blocked private address",
		Err:     err,
	}
}

func robotsDisallowed() *Error {
	return &Error{Kind: KindRobotsDisallowed, Status: http.StatusForbidden, Message: "Disallowed by robots.txt"}
}

func upstreamError(status int) *Error {
	return &Error{Kind: KindUpstreamError, Status: status, Message: fmt.Sprintf("Upstream HTTP %d", status)}
}

func requestTimeout(err error) *Error {
	return &Error{Kind: KindRequestTimeout, Status: http.StatusGatewayTimeout, Message: "Request timed out", Err: err}
}

// internalError reports only the cause's message text.
func internalError(err error) *Error {
	return &Error{Kind: KindInternalError, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}
