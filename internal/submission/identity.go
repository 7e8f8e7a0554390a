package submission

import (
	"net"
	"net/netip"
	"strings"
)

// UnknownIdentity keys every request whose connection address is not an IP
// literal, so they share one quota.
const UnknownIdentity = "unknown"

// Origin is the network information a request arrives with.
type Origin struct {
	RemoteAddr    string
	XForwardedFor string
	XRealIP       string
}

// ResolveIdentity picks the rate-limit key for a request. Proxy headers are
// hints: the first X-Forwarded-For hop, then X-Real-IP, each used only when
// it parses as an IP literal. Otherwise the connection address wins.
func ResolveIdentity(o Origin, trustHeaders bool) string {
	if trustHeaders {
		if o.XForwardedFor != "" {
			first, _, _ := strings.Cut(o.XForwardedFor, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		} else if ip, ok := parseIP(o.XRealIP); ok {
			return ip
		}
	}
	return remoteIP(o.RemoteAddr)
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return UnknownIdentity
}
