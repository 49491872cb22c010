package errors

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strings"
)

type transportRule struct {
	match   func(err error, msg string) bool
	status  int
	code    string
	errType string
	message string
}

func containsAny(msg string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Evaluated in order; the first match wins.
var transportRules = []transportRule{
	{
		match: func(err error, msg string) bool {
			var netErr net.Error
			return stderrors.Is(err, context.DeadlineExceeded) ||
				(stderrors.As(err, &netErr) && netErr.Timeout()) ||
				containsAny(msg, "timeout", "deadline exceeded")
		},
		status: http.StatusGatewayTimeout, code: "timeout", errType: "timeout_error",
		message: "Upstream request timed out",
	},
	{
		match: func(err error, msg string) bool {
			return stderrors.Is(err, context.Canceled) || strings.Contains(msg, "context canceled")
		},
		status: http.StatusGatewayTimeout, code: "request_aborted", errType: "timeout_error",
		message: "Upstream request was aborted",
	},
	{
		match:  func(_ error, msg string) bool { return containsAny(msg, "no such host", "name resolution") },
		status: http.StatusBadGateway, code: "dns_error", errType: "server_error",
		message: "Upstream host could not be resolved",
	},
	{
		match:  func(_ error, msg string) bool { return containsAny(msg, "connection refused", "connection reset", "EOF") },
		status: http.StatusBadGateway, code: "connection_error", errType: "server_error",
		message: "Upstream connection failed",
	},
	{
		match:  func(_ error, msg string) bool { return containsAny(msg, "certificate", "tls") },
		status: http.StatusBadGateway, code: "tls_error", errType: "server_error",
		message: "Upstream TLS handshake failed",
	},
}

// MapNetworkError classifies a transport failure from a forward or probe.
// Timeouts and aborts become 504; every other failure becomes 502. The
// error text may name upstream hosts and is not copied into the result.
func MapNetworkError(err error) *APIError {
	msg := err.Error()
	for _, r := range transportRules {
		if r.match(err, msg) {
			return New(r.status, r.code, r.errType, r.message)
		}
	}
	return New(http.StatusBadGateway, "network_error", "server_error", "Upstream request failed")
}

