package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures. Every layer converts its own failure
// mode into one of these kinds before handing control back to the router, so
// callers never observe a bare backend error.
type ErrorKind int

const (
	// KindServiceNotFound - the service name is unknown or unresolvable
	KindServiceNotFound ErrorKind = iota
	// KindRateLimited - admission was denied by the rate limiter
	KindRateLimited
	// KindCircuitOpen - the circuit breaker short-circuited the call
	KindCircuitOpen
	// KindUpstream - the backend raised an error or timed out
	KindUpstream
	// KindConfiguration - invalid configuration, rejected at configuration time
	KindConfiguration
	// KindUnauthorized - the security validator rejected the request
	KindUnauthorized
	// KindShutdown - the gateway has been shut down and is no longer routable
	KindShutdown
)

// StatusCode maps an ErrorKind to the HTTP-style status code surfaced on the
// gateway response.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindServiceNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCircuitOpen, KindShutdown:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured failure type used across gateway layers.
type Error struct {
	Kind    ErrorKind
	Service string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error { return e.Err }

// NewServiceNotFound reports an unknown or unresolvable service name
func NewServiceNotFound(service string) *Error {
	return &Error{
		Kind:    KindServiceNotFound,
		Service: service,
		Message: fmt.Sprintf("service %q is not registered", service),
	}
}

// NewRateLimited reports denied admission for a service
func NewRateLimited(service string) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Service: service,
		Message: fmt.Sprintf("rate limit exceeded for service %q", service),
	}
}

// NewCircuitOpen reports a short-circuited call
func NewCircuitOpen(service string) *Error {
	return &Error{
		Kind:    KindCircuitOpen,
		Service: service,
		Message: fmt.Sprintf("circuit breaker open for service %q", service),
	}
}

// NewUpstream reports a backend failure
func NewUpstream(service string, err error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Service: service,
		Message: fmt.Sprintf("upstream call to service %q failed", service),
		Err:     err,
	}
}

// NewConfiguration reports invalid configuration
func NewConfiguration(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the ErrorKind from err, or KindUpstream if err is not a
// gateway error.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUpstream
}
