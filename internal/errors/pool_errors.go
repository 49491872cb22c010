package errors

import "net/http"

// CredentialsCoolingDown reports that every credential is rate limited for now.
func CredentialsCoolingDown(retryAfterSec int) *APIError {
	return New(http.StatusTooManyRequests, "credentials_cooling_down", "rate_limit_error",
		"All upstream credentials are cooling down, retry later").WithRetryAfter(retryAfterSec)
}

// NoCredentials reports that the credential pool has no active member.
func NoCredentials() *APIError {
	return New(http.StatusInternalServerError, "no_credentials", "server_error",
		"No active upstream credentials are configured")
}

// NoModel reports that the model pool is empty.
func NoModel() *APIError {
	return New(http.StatusServiceUnavailable, "no_model_available", "server_error",
		"No upstream model is available")
}

// Internal wraps an unexpected failure without leaking its text to callers.
func Internal(message string) *APIError {
	if message == "" {
		message = "Internal server error"
	}
	return New(http.StatusInternalServerError, "internal_error", "server_error", message)
}

// BadRequest reports a malformed inbound request.
func BadRequest(message string) *APIError {
	return New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error", message)
}

// Unauthorized reports a missing or unknown caller key.
func Unauthorized(message string) *APIError {
	return New(http.StatusUnauthorized, "invalid_api_key", "authentication_error", message)
}
