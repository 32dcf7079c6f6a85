// auth.go implements access-key authentication.
//
// One configurable header, up to two accepted keys so deployments rotate
// without downtime. Comparison is constant-time.

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// DefaultAuthHeader carries the access key when none is configured.
const DefaultAuthHeader = "Authorization"

// Auth validates the access key header. The zero value disables auth.
type Auth struct {
	// Header is the request header holding the key.
	Header string
	// Keys holds the accepted keys; empty disables auth.
	Keys []string
}

// NewAuth builds an Auth from up to two keys, skipping empty ones.
func NewAuth(header, key1, key2 string) Auth {
	if header == "" {
		header = DefaultAuthHeader
	}
	var keys []string
	for _, k := range []string{key1, key2} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return Auth{Header: header, Keys: keys}
}

// Enabled reports whether requests must authenticate.
func (a Auth) Enabled() bool { return len(a.Keys) > 0 }

// Middleware rejects requests without a valid key.
func (a Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		presented := r.Header.Get(a.Header)
		// Tolerate the common Bearer prefix on Authorization-style headers.
		presented = strings.TrimPrefix(presented, "Bearer ")
		for _, k := range a.Keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing or invalid access key"})
	})
}
