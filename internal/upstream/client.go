package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/constants"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
)

// Options configures the upstream client.
type Options struct {
	BaseURL             string
	ProxyURL            string
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	// HTTPClient replaces the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the OpenAI-compatible upstream.
type Client struct {
	baseURL string
	cli     *http.Client
	headers *HeaderFilter
}

// Model is one entry of the upstream model listing.
type Model struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

func durationOrDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// New builds a client with a pooled transport. No overall client timeout is
// set; callers bound each call with their context.
func New(opts Options) *Client {
	cli := opts.HTTPClient
	if cli == nil {
		tr := &http.Transport{
			Proxy: proxyFunc(opts.ProxyURL),
			DialContext: (&net.Dialer{
				Timeout:   durationOrDefault(opts.DialTimeout, constants.DefaultDialTimeout),
				KeepAlive: constants.DefaultKeepAlive,
			}).DialContext,
			TLSHandshakeTimeout:   durationOrDefault(opts.TLSHandshakeTimeout, constants.DefaultTLSHandshakeTimeout),
			ExpectContinueTimeout: constants.DefaultExpectContinueTimeout,
			MaxIdleConns:          constants.MaxIdleConns,
			MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
			IdleConnTimeout:       constants.IdleConnTimeout,
			ForceAttemptHTTP2:     true,
		}
		cli = &http.Client{Transport: tr}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cli:     cli,
		headers: DefaultHeaderFilter(),
	}
}

func proxyFunc(proxyURL string) func(*http.Request) (*url.URL, error) {
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// BaseURL returns the normalised upstream root.
func (c *Client) BaseURL() string { return c.baseURL }

// ChatCompletions forwards body to {base}/chat/completions. The caller owns
// the response body. Selected client headers are passed through.
func (c *Client) ChatCompletions(ctx context.Context, secret string, body []byte, clientHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers.Filter(clientHeaders) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/event-stream")
	}

	start := time.Now()
	resp, err := c.cli.Do(req)
	if err != nil {
		monitoring.UpstreamRequestsTotal.WithLabelValues("chat_error").Inc()
		return nil, err
	}
	monitoring.UpstreamRequestsTotal.WithLabelValues("chat").Inc()
	monitoring.UpstreamRequestDuration.WithLabelValues(monitoring.StatusClass(resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp, nil
}

// StatusError reports a non-2xx answer to a non-streaming call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// ListModels fetches {base}/models with secret.
func (c *Client) ListModels(ctx context.Context, secret string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.cli.Do(req)
	if err != nil {
		monitoring.UpstreamRequestsTotal.WithLabelValues("models_error").Inc()
		return nil, err
	}
	monitoring.UpstreamRequestsTotal.WithLabelValues("models").Inc()
	raw, err := ReadAll(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return parseModels(raw)
}

func parseModels(raw []byte) ([]Model, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("upstream model listing is not json")
	}
	data := gjson.GetBytes(raw, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("upstream model listing has no data array")
	}
	out := make([]Model, 0, len(data.Array()))
	for _, item := range data.Array() {
		id := strings.TrimSpace(item.Get("id").String())
		if id == "" {
			continue
		}
		out = append(out, Model{
			ID:      id,
			OwnedBy: item.Get("owned_by").String(),
			Created: item.Get("created").Int(),
		})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
