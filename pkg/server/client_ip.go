package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// trustedProxies matches the peers whose forwarding headers are believed.
type trustedProxies struct {
	prefixes []netip.Prefix
}

func newTrustedProxies(entries []string, logger *slog.Logger) *trustedProxies {
	if logger == nil {
		logger = slog.Default()
	}
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid trusted proxy IP", "entry", entry)
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	if len(prefixes) == 0 {
		return nil
	}
	return &trustedProxies{prefixes: prefixes}
}

func (t *trustedProxies) contains(addr netip.Addr) bool {
	if t == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr returns the address of the client that made r. Forwarding
// headers are only consulted when the direct peer is a trusted proxy; the
// result is then the right-most hop that is not itself trusted.
func clientAddr(r *http.Request, trusted *trustedProxies) netip.Addr {
	peer := parseHostAddr(r.RemoteAddr)
	if !peer.IsValid() || !trusted.contains(peer) {
		return peer
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) == 0 {
		return peer
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !trusted.contains(hops[i]) {
			return hops[i]
		}
	}
	return hops[0]
}

// forwardedFor extracts the for= addresses of an RFC 7239 Forwarded header.
func forwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, element := range strings.Split(header, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if addr := parseHostAddr(value); addr.IsValid() {
				out = append(out, addr)
			}
		}
	}
	return out
}

func xForwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, hop := range strings.Split(header, ",") {
		if addr := parseHostAddr(hop); addr.IsValid() {
			out = append(out, addr)
		}
	}
	return out
}

// parseHostAddr accepts "ip", "ip:port", "[ipv6]:port" and quoted forms.
// Zones are dropped. It returns the zero Addr for anything else.
func parseHostAddr(value string) netip.Addr {
	host := strings.Trim(strings.TrimSpace(value), "\"")
	if host == "" || strings.EqualFold(host, "unknown") {
		return netip.Addr{}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if i := strings.IndexByte(host, '%'); i != -1 {
		host = host[:i]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}
