package logging

import "net/http"

// Outcome labels a finished proxy request for logs. failed marks a request
// that recorded a handler error; with status 0 it means nothing was written.
func Outcome(status int, failed bool) string {
	switch {
	case status == 0 && failed:
		return "network_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth_rejected"
	case status == http.StatusNotFound:
		return "not_found"
	case (status == http.StatusBadGateway || status == http.StatusGatewayTimeout) && failed:
		return "transport_error"
	case status >= 500:
		return "upstream_error"
	case status >= 400:
		return "client_error"
	case failed:
		return "error"
	}
	return "ok"
}
