package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// ipSet matches addresses against single IPs and CIDR ranges.
type ipSet struct {
	ips  map[string]bool
	nets []*net.IPNet
}

func parseIPSet(entries []string, logger zerolog.Logger) ipSet {
	set := ipSet{ips: make(map[string]bool)}
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			set.ips[entry] = true
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR, ignoring")
			continue
		}
		set.nets = append(set.nets, ipNet)
	}
	return set
}

func (s ipSet) contains(addr string) bool {
	if s.ips[addr] {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (s ipSet) empty() bool {
	return len(s.ips) == 0 && len(s.nets) == 0
}

// ClientIP replaces r.RemoteAddr with the client address. Forwarding headers
// are honored only when the connection comes from a trusted proxy, and then
// the right-most X-Forwarded-For hop that is not itself a trusted proxy wins.
// With no trusted proxies the headers are ignored entirely.
func ClientIP(trustedProxies []string, logger zerolog.Logger) func(http.Handler) http.Handler {
	trusted := parseIPSet(trustedProxies, logger)
	if !trusted.empty() {
		logger.Info().
			Int("ips", len(trusted.ips)).
			Int("cidrs", len(trusted.nets)).
			Msg("trusting forwarding headers from proxies")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.RemoteAddr = resolveClientIP(r, trusted)
			next.ServeHTTP(w, r)
		})
	}
}

func resolveClientIP(r *http.Request, trusted ipSet) string {
	peer := remoteHost(r)
	if !trusted.contains(peer) {
		return peer
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				break // anything left of a malformed hop is client-controlled
			}
			if !trusted.contains(hop) {
				return hop
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	return peer
}

// remoteHost returns r.RemoteAddr without its port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
