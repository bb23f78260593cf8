package bluquist

import (
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"
)

// IPResolver implements the one client-IP algorithm shared by login and the
// gate:
//
//  1. If X-Forwarded-For is present, its first entry wins.
//  2. Otherwise the route is the proxy chain from the Forwarded header
//     followed by the connection's remote address. Walking it from the
//     nearest hop outwards, the first address not in the trusted set wins.
//  3. If every hop is trusted, the remote address is used.
type IPResolver struct {
	trusted map[string]struct{}
}

// NewIPResolver returns a resolver trusting the given proxy addresses.
func NewIPResolver(trusted []string) *IPResolver {
	r := &IPResolver{trusted: make(map[string]struct{}, len(trusted))}
	for _, addr := range trusted {
		r.trusted[canonicalIP(addr)] = struct{}{}
	}
	return r
}

// Resolve returns the client IP for req.
func (r *IPResolver) Resolve(req *http.Request) string {
	if values := req.Header.Values("X-Forwarded-For"); len(values) > 0 {
		first, _, _ := strings.Cut(values[0], ",")
		if first = strings.TrimSpace(first); first != "" {
			return canonicalIP(first)
		}
	}

	remote := remoteIP(req.RemoteAddr)
	route := append(forwardedFor(req.Header.Values("Forwarded")), remote)

	for _, addr := range slices.Backward(route) {
		if _, ok := r.trusted[addr]; !ok {
			return addr
		}
	}
	return remote
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return canonicalIP(remoteAddr)
	}
	return canonicalIP(host)
}

// forwardedFor extracts the for= addresses of an RFC 7239 header, outermost
// client first. Obfuscated and unknown identifiers are skipped.
func forwardedFor(values []string) []string {
	var out []string
	for _, value := range values {
		for _, element := range strings.Split(value, ",") {
			for _, pair := range strings.Split(element, ";") {
				key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
				if !ok || !strings.EqualFold(key, "for") {
					continue
				}
				if ip, ok := parseForwardedNode(val); ok {
					out = append(out, ip)
				}
			}
		}
	}
	return out
}

func parseForwardedNode(node string) (string, bool) {
	node = strings.Trim(strings.TrimSpace(node), `"`)
	if strings.HasPrefix(node, "[") {
		end := strings.IndexByte(node, ']')
		if end < 0 {
			return "", false
		}
		node = node[1:end]
	} else if host, _, err := net.SplitHostPort(node); err == nil {
		node = host
	}

	addr, err := netip.ParseAddr(node)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func canonicalIP(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return addr.Unmap().String()
}
