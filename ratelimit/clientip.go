package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP extracts the caller's IP. Forwarding headers (X-Forwarded-For,
// Forwarded, X-Real-IP) are honored only when the direct peer falls within
// trustedProxies; otherwise RemoteAddr is used. Forwarding chains are read
// right to left and the first hop outside trustedProxies wins, since only
// the entries appended by trusted proxies can be believed. Returns "" when
// nothing parses.
func ClientIP(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if ip, ok := firstUntrusted(xffHops(r.Header.Values("X-Forwarded-For")), trustedProxies); ok {
		return ip
	}
	if ip, ok := firstUntrusted(forwardedHops(r.Header.Values("Forwarded")), trustedProxies); ok {
		return ip
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

// xffHops flattens X-Forwarded-For headers into hops, client side first.
func xffHops(values []string) []string {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}
	return hops
}

// forwardedHops returns the for= parameters of RFC 7239 Forwarded headers,
// client side first.
func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(strings.ToLower(param), "for=") {
					hops = append(hops, param[4:])
				}
			}
		}
	}
	return hops
}

// firstUntrusted walks hops from the proxy side and returns the first
// address outside trustedProxies. Unparseable hops are skipped. When every
// hop is trusted the outermost one is returned.
func firstUntrusted(hops []string, trustedProxies []netip.Prefix) (string, bool) {
	var outermost string
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(hops[i])
		if !ok {
			continue
		}
		if !peerTrusted(ip, trustedProxies) {
			return ip, true
		}
		outermost = ip
	}
	return outermost, outermost != ""
}

func peerTrusted(remoteIP string, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
