package upstream

import (
	"io"
	"net/http"
	"strings"
)

// HeaderFilter decides which client headers reach the upstream.
type HeaderFilter struct {
	allowList map[string]bool
}

// NewHeaderFilter allows exactly the given header names, case-insensitively.
func NewHeaderFilter(allow ...string) *HeaderFilter {
	f := &HeaderFilter{allowList: make(map[string]bool, len(allow))}
	for _, h := range allow {
		if normalized := strings.ToLower(strings.TrimSpace(h)); normalized != "" {
			f.allowList[normalized] = true
		}
	}
	return f
}

// DefaultHeaderFilter passes content negotiation and tracing headers only.
// Authorization is never forwarded; the pooled secret replaces it.
func DefaultHeaderFilter() *HeaderFilter {
	return NewHeaderFilter("accept", "x-request-id", "user-agent", "traceparent", "tracestate")
}

// Filter returns a copy of source restricted to allowed headers.
func (f *HeaderFilter) Filter(source http.Header) http.Header {
	out := http.Header{}
	if f == nil || source == nil {
		return out
	}
	for k, vs := range source {
		if f.allowList[strings.ToLower(k)] {
			out[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
		}
	}
	return out
}

// ReadAll reads and closes the response body.
func ReadAll(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
