package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/serendib/storefront/internal/domain/auth"
)

// APIKeyGuard authenticates admin requests via HMAC-SHA256 hashed API
// keys presented in the X-API-Key header.
type APIKeyGuard struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAPIKeyGuard creates an APIKeyGuard with the given API key
// repository and HMAC pepper.
func NewAPIKeyGuard(apikeys auth.Repository, pepper []byte) *APIKeyGuard {
	return &APIKeyGuard{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Wrap guards a handler function: the request proceeds only when the
// presented key's HMAC matches a stored active key. The stored hash is
// re-compared in constant time to guard against timing side-channels
// even though the lookup already succeeded.
func (g *APIKeyGuard) Wrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		mac := hmac.New(sha256.New, g.pepper)
		mac.Write([]byte(key))
		hash := mac.Sum(nil)

		info, err := g.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
