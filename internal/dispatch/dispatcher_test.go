package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/models"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/upstream"
)

const chatBody = `{"model":"anything","messages":[{"role":"user","content":"hi"}]}`

type harness struct {
	creds  *credential.Pool
	models *models.Pool
	store  *state.ConfigStore
	disp   *Dispatcher
	clock  time.Time

	mu     sync.Mutex
	seen   []string
	bearer []string
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) record(r *http.Request) string {
	raw, _ := io.ReadAll(r.Body)
	model := gjson.GetBytes(raw, "model").String()
	h.mu.Lock()
	h.seen = append(h.seen, model)
	h.bearer = append(h.bearer, r.Header.Get("Authorization"))
	h.mu.Unlock()
	return model
}

func (h *harness) seenModels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func newHarness(t *testing.T, modelList, secrets []string, handler func(h *harness, w http.ResponseWriter, r *http.Request)) *harness {
	t.Helper()
	h := &harness{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(h, w, r)
	}))
	t.Cleanup(srv.Close)

	b := storage.NewMemoryBackend()
	h.store = state.NewConfigStore(b, state.Defaults{Models: modelList}, 5)
	_, err := h.store.Load(context.Background())
	require.NoError(t, err)
	h.models = models.NewPool(h.store, nil)
	h.creds = credential.NewPool(credential.WithRequestCounter(h.store))
	for i, s := range secrets {
		_, err := h.creds.Add(s, h.clock.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	client := upstream.New(upstream.Options{BaseURL: srv.URL})
	h.disp = New(h.creds, h.models, client, Options{Timeout: 200 * time.Millisecond, Now: h.now})
	return h
}

func okHandler(h *harness, w http.ResponseWriter, r *http.Request) {
	model := h.record(r)
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"id":"c1","model":"`+model+`"}`)
}

func modelMissing(h *harness, w http.ResponseWriter, r *http.Request) {
	h.record(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, `{"error":{"message":"Model does not exist","type":"invalid_request_error","code":"model_not_found"}}`)
}

func readOutcome(t *testing.T, out *Outcome) string {
	t.Helper()
	defer out.Close()
	raw, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestDispatchRotatesAndRewritesModel(t *testing.T) {
	h := newHarness(t, []string{"m1", "m2"}, []string{"csk-aaaaaaaaaaaa", "csk-bbbbbbbbbbbb"}, okHandler)

	for i := 0; i < 3; i++ {
		out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
		require.Nil(t, apiErr)
		assert.Equal(t, http.StatusOK, out.StatusCode)
		assert.Equal(t, 1, out.Attempts)
		assert.Contains(t, readOutcome(t, out), out.Model)
	}
	assert.Equal(t, []string{"m1", "m2", "m1"}, h.seenModels())
	assert.Equal(t, []string{"Bearer csk-aaaaaaaaaaaa", "Bearer csk-bbbbbbbbbbbb", "Bearer csk-aaaaaaaaaaaa"}, h.bearer)
	assert.Equal(t, int64(3), h.store.PendingRequests())
}

func TestDispatchRejectsNonObjectBody(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, okHandler)
	_, apiErr := h.disp.Dispatch(context.Background(), []byte(`[1,2]`), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Empty(t, h.seenModels())
}

func TestDispatchWithoutCredentials(t *testing.T) {
	h := newHarness(t, []string{"m1"}, nil, okHandler)
	_, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
	assert.Equal(t, "no_credentials", apiErr.Code)
}

func TestRateLimitCoolsCredentialAndPassesThrough(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	assert.Contains(t, readOutcome(t, out), "slow down")

	h.clock = h.clock.Add(1500 * time.Millisecond)
	_, apiErr = h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus)
	assert.Equal(t, 4, apiErr.RetryAfter)
	assert.Len(t, h.seenModels(), 1)
}

func TestAuthFailureInvalidatesCredential(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	readOutcome(t, out)

	_, apiErr = h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
	assert.Equal(t, 1, h.creds.Stats(h.clock).ByStatus[credential.StatusInvalid])
}

func TestModelNotFoundEvictsLastModel(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, modelMissing)

	_, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.HTTPStatus)
	assert.Empty(t, h.models.List())
	assert.Equal(t, []string{"m1"}, h.seenModels())
}

func TestModelNotFoundRetriesNextModel(t *testing.T) {
	h := newHarness(t, []string{"gone", "m2"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(raw)))
		if gjson.GetBytes(raw, "model").String() == "gone" {
			modelMissing(h, w, r)
			return
		}
		okHandler(h, w, r)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "m2", out.Model)
	assert.Equal(t, 2, out.Attempts)
	readOutcome(t, out)
	assert.Equal(t, []string{"m2"}, h.models.List())
	assert.Zero(t, h.models.Cursor())
}

func TestModelAttemptsExhaustedReturnsLast404(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c", "d"}, []string{"csk-aaaaaaaaaaaa"}, modelMissing)

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	require.NotNil(t, out)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.True(t, out.Buffered)
	assert.Empty(t, out.Header.Get("Content-Length"))
	assert.Empty(t, out.Header.Get("Content-Encoding"))
	assert.Equal(t, "application/json", out.Header.Get("Content-Type"))
	assert.Contains(t, readOutcome(t, out), "model_not_found")

	assert.Equal(t, []string{"a", "b", "c"}, h.seenModels())
	assert.Equal(t, []string{"d"}, h.models.List())
}

func TestTuneShrinksAttemptBudget(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c", "d"}, []string{"csk-aaaaaaaaaaaa"}, modelMissing)
	h.disp.Tune(200*time.Millisecond, 1)

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	defer out.Close()
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Equal(t, []string{"a"}, h.seenModels())
	assert.Equal(t, []string{"b", "c", "d"}, h.models.List())
}

func TestPlain404IsPassedThrough(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"route missing","code":"not_found"}}`)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Contains(t, readOutcome(t, out), "route missing")
	assert.Equal(t, []string{"m1"}, h.models.List())
}

func TestStructuredRoute404KeepsPool(t *testing.T) {
	pool := []string{"m1", "m2", "m3"}
	h := newHarness(t, pool, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"The requested route does not exist","code":"not_found"}}`)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Contains(t, readOutcome(t, out), "route does not exist")
	assert.Len(t, h.seenModels(), 1)
	assert.Equal(t, pool, h.models.List())
	assert.Equal(t, pool, h.store.Snapshot().ModelPool)
}

func TestOtherStatusesPassThroughUntouched(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `upstream broke`)
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.False(t, out.Buffered)
	assert.Equal(t, "upstream broke", readOutcome(t, out))
	assert.Equal(t, 1, h.creds.Stats(h.clock).ByStatus[credential.StatusActive])
}

func TestSlowHeadersTimeOut(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.HTTPStatus)
	assert.Len(t, h.seenModels(), 1)
}

func TestBodyMayOutliveHeaderTimeout(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, func(h *harness, w http.ResponseWriter, r *http.Request) {
		h.record(r)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(400 * time.Millisecond)
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	out, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.Nil(t, apiErr)
	assert.Equal(t, "data: [DONE]\n\n", readOutcome(t, out))
}

func TestTransportErrorIsBadGateway(t *testing.T) {
	h := newHarness(t, []string{"m1"}, []string{"csk-aaaaaaaaaaaa"}, okHandler)
	h.disp.upstream = upstream.New(upstream.Options{BaseURL: "http://127.0.0.1:1"})

	_, apiErr := h.disp.Dispatch(context.Background(), []byte(chatBody), nil)
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus)
	body, err := json.Marshal(apiErr)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "127.0.0.1")
}

func TestIsModelNotFound(t *testing.T) {
	cases := []struct {
		body string
		want bool
	}{
		{`{"error":{"code":"model_not_found"}}`, true},
		{`{"error":{"type":"model_not_found","code":null}}`, true},
		{`{"error":{"message":"The model foo does not exist"}}`, true},
		{`Model Not Found`, true},
		{`{"error":{"code":"not_found","message":"no route"}}`, false},
		{`{"error":{"code":"not_found","message":"model not found"}}`, false},
		{`{"error":{"message":"The requested route does not exist"}}`, false},
		{`{"message":"Model foo does not exist","type":"not_found_error","code":"model_not_found"}`, true},
		{`{"message":"Not Found","type":"not_found_error"}`, false},
		{``, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsModelNotFound([]byte(tc.body)), tc.body)
	}
}
