// Package token mints the opaque URL-safe codes that identify ad
// assignments in tracking URLs.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// codeBytes yields 11 base64url characters, 64 bits of entropy. Collisions
// are handled by the unique index on ad_assignments.code plus insert retry.
const codeBytes = 8

// NewCode returns a fresh URL-safe assignment code.
func NewCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating assignment code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
