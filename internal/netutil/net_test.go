package netutil

import (
	"net"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerKeyIgnoresForwardingHeaders(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.9:5123"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.Header.Set("X-Real-IP", "192.168.1.4")
	assert.Equal(t, "10.0.0.9", PeerKey(r))

	r.RemoteAddr = "[::1]:80"
	assert.Equal(t, "::1", PeerKey(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "unknown", PeerKey(r))
	assert.Equal(t, "unknown", PeerKey(nil))
}

func TestSource(t *testing.T) {
	assert.Equal(t, "loopback", Source(net.ParseIP("127.0.0.1")))
	assert.Equal(t, "private", Source(net.ParseIP("10.1.2.3")))
	assert.Equal(t, "public", Source(net.ParseIP("8.8.8.8")))
	assert.Equal(t, "unknown", Source(nil))
}

func TestParseIPNets(t *testing.T) {
	nets, invalid := ParseIPNets([]string{"10.0.0.0/8", " 127.0.0.1 ", "::1", "", "nope"})
	assert.Len(t, nets, 3)
	assert.Equal(t, []string{"nope"}, invalid)

	assert.True(t, ContainsIP(nets, net.ParseIP("10.20.30.40")))
	assert.True(t, ContainsIP(nets, net.ParseIP("127.0.0.1")))
	assert.False(t, ContainsIP(nets, net.ParseIP("127.0.0.2")))
	assert.True(t, ContainsIP(nets, net.ParseIP("::1")))
	assert.False(t, ContainsIP(nets, nil))
}
