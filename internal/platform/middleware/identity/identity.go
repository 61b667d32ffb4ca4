// Package identity derives the request attributes shared by the rate limiter
// and the idempotency cache: the client address and a caller fingerprint.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const AnonymousFingerprint = "anonymous"

// ClientIP returns the first X-Forwarded-For hop when trustXFF is set, then
// the RemoteAddr host, then "unknown".
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Fingerprint hashes the Authorization header so the raw credential never
// reaches a cache key. Requests without one share the anonymous fingerprint.
func Fingerprint(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return AnonymousFingerprint
	}
	sum := sha256.Sum256([]byte(authorization))
	return hex.EncodeToString(sum[:16])
}
