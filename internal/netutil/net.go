package netutil

import (
	"net"
	"net/http"
	"strings"
)

// PeerIP is the socket peer of r. Forwarding headers are ignored: the
// server trusts no proxy.
func PeerIP(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}

// PeerKey is PeerIP as a map key; unparsable peers share one bucket.
func PeerKey(r *http.Request) string {
	if ip := PeerIP(r); ip != nil {
		return ip.String()
	}
	return "unknown"
}

// Source classifies an address as loopback, private or public.
func Source(ip net.IP) string {
	switch {
	case ip == nil:
		return "unknown"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	default:
		return "public"
	}
}

// ParseIPNets parses IPs and CIDRs. Bare IPs become single-host networks.
// Entries that parse as neither are returned in invalid.
func ParseIPNets(list []string) (nets []*net.IPNet, invalid []string) {
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(s); err == nil {
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(s)
		if ip == nil {
			invalid = append(invalid, s)
			continue
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, invalid
}

// ContainsIP reports whether any network holds ip.
func ContainsIP(nets []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
