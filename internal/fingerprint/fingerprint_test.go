package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashDeterministicAndSalted(t *testing.T) {
	a := NewHasher("salt-a")
	b := NewHasher("salt-b")

	assert.Equal(t, a.Hash("1.2.3.4"), a.Hash("1.2.3.4"))
	assert.NotEqual(t, a.Hash("1.2.3.4"), b.Hash("1.2.3.4"))
	assert.NotEqual(t, a.Hash("1.2.3.4"), a.Hash("1.2.3.5"))
	assert.Len(t, a.Hash("anything"), 64)
}

func TestHashFormat(t *testing.T) {
	h := NewHasher("devsalt")
	sum := sha256.Sum256([]byte("devsalt:Mozilla/5.0"))
	assert.Equal(t, hex.EncodeToString(sum[:]), h.Hash("Mozilla/5.0"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "203.0.113.7", "10.0.0.1:4321", "203.0.113.7"},
		{"forwarded chain takes first", "203.0.113.7, 10.0.0.2, 10.0.0.3", "10.0.0.1:4321", "203.0.113.7"},
		{"forwarded with spaces", "  203.0.113.7 , 10.0.0.2", "10.0.0.1:4321", "203.0.113.7"},
		{"no header falls back to peer", "", "192.0.2.9:55555", "192.0.2.9"},
		{"peer without port", "", "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/t/abc", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
