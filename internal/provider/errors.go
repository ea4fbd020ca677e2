package provider

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindConfig means required settings are missing; no I/O was attempted.
	KindConfig Kind = "config"
	// KindTransport means the backend could not be reached or the stream broke.
	KindTransport Kind = "transport"
	// KindRemote means the backend answered with a non-success status.
	KindRemote Kind = "remote"
)

// Error is the single error type returned by providers. Message is meant to
// be shown to the user as is.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func transportError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf(format, args...), Err: err}
}

func remoteError(status int, body string) *Error {
	return &Error{
		Kind:    KindRemote,
		Message: fmt.Sprintf("API Error (%d): %s", status, body),
		Status:  status,
		Body:    body,
	}
}

// IsKind reports whether err is a provider error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}

// isConnRefused reports whether err means nothing accepted the connection.
func isConnRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// isMixedContent reports whether a secure origin is calling an insecure target.
func isMixedContent(origin, target string) bool {
	if origin == "" {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(o.Scheme, "https") && strings.HasPrefix(strings.ToLower(target), "http:")
}
