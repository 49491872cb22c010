package common

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func abortWith(t *testing.T, err *apperrors.APIError) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	AbortWithAPIError(c, err)
	assert.True(t, c.IsAborted())
	return w
}

func TestAbortWithAPIErrorEnvelope(t *testing.T) {
	w := abortWith(t, apperrors.BadRequest("missing messages"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing messages", gjson.Get(w.Body.String(), "error.message").String())
	assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestAbortWithAPIErrorRetryAfter(t *testing.T) {
	w := abortWith(t, apperrors.CredentialsCoolingDown(7))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "7", w.Header().Get("Retry-After"))
	assert.Equal(t, int64(7), gjson.Get(w.Body.String(), "error.retry_after").Int())
}

func TestAbortWithAPIErrorFallbacks(t *testing.T) {
	w := abortWith(t, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "server_error", gjson.Get(w.Body.String(), "error.code").String())

	w = abortWith(t, apperrors.New(http.StatusOK, "odd", "server_error", "odd"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "odd", gjson.Get(w.Body.String(), "error.code").String())
}
