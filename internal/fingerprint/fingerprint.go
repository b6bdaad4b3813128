// Package fingerprint hashes request identifiers before they are stored.
// Raw IPs and user agents never leave the request handler; only salted
// SHA-256 digests are persisted or logged.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Hasher produces salted hex digests of request identifiers. The salt is
// fixed for the process lifetime; rotating it orphans stored fingerprints,
// which resets duplicate detection but nothing else.
type Hasher struct {
	salt string
}

// NewHasher returns a Hasher using the given salt.
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Hash returns hex(sha256(salt + ":" + value)). Hashing the empty string is
// valid and deterministic; callers decide whether an empty input is
// meaningful before hashing.
func (h *Hasher) Hash(value string) string {
	sum := sha256.Sum256([]byte(h.salt + ":" + value))
	return hex.EncodeToString(sum[:])
}

// ClientIP extracts the caller's IP for fingerprinting. The first entry of
// X-Forwarded-For wins when present; otherwise the transport peer address is
// used with its port stripped.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
