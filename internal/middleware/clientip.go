package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ClientIPKey is the context key used to store the resolved client IP.
const ClientIPKey ctxKey = "client_ip"

// ClientIP returns middleware that resolves the caller's IP once per
// request and stores it in the context. X-Forwarded-For is only believed
// when the direct peer is inside one of the trusted proxy CIDRs; invalid
// CIDRs are logged and skipped.
func ClientIP(trustedProxies []string, logger *slog.Logger) func(http.Handler) http.Handler {
	trusted := parseCIDRs(trustedProxies, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trusted)
			ctx := context.WithValue(r.Context(), ClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the IP stored by ClientIP, or the host part of
// RemoteAddr when the middleware did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok {
		return ip
	}
	return extractIP(r.RemoteAddr)
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

func resolveClientIP(r *http.Request, trusted []*net.IPNet) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(trusted) > 0 && isTrusted(peerIP, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !isTrusted(ip, trusted) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func isTrusted(ipStr string, trusted []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range trusted {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
