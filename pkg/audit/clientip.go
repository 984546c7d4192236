package audit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers whose forwarding headers are believed.
// A nil *TrustedProxies trusts nobody.
type TrustedProxies struct {
	nets []*net.IPNet
}

// ParseTrustedProxies parses CIDRs or bare addresses. Empty entries are
// skipped; an empty list returns nil.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		nets = append(nets, n)
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

func (t *TrustedProxies) trusts(addr string) bool {
	if t == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address. RemoteAddr is used unless
// the peer is trusted, in which case X-Forwarded-For is walked from the right
// and the first hop that is not itself a trusted proxy wins. Hops left of it
// were written by the client and are never used.
func (t *TrustedProxies) ClientIP(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !t.trusts(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				// garbage from an untrusted writer; stop at the last good hop
				break
			}
			if !t.trusts(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}
