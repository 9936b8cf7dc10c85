package api

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashIterations = 120000
	tokenHashKeyLength  = 32
	tokenHashSaltLength = 16
)

var errInvalidToken = fmt.Errorf("invalid bearer token")

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// HashToken derives a storable digest for a bearer token. The encoded form
// is what operators place in configuration; the raw token never is.
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("token is required")
	}
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenHashIterations, encodedSalt, encodedKey), nil
}

func verifyToken(encodedDigest, candidate string) error {
	parts := strings.Split(encodedDigest, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid digest format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported digest identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode digest: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return errInvalidToken
	}
	return nil
}

// authorize checks the request's bearer token against the configured
// digests. With no digests configured the API is open.
func (h *Handler) authorize(r *http.Request) error {
	if len(h.TokenDigests) == 0 {
		return nil
	}
	token := ExtractToken(r)
	if token == "" {
		return fmt.Errorf("missing bearer token")
	}
	for _, digest := range h.TokenDigests {
		if err := verifyToken(digest, token); err == nil {
			return nil
		}
	}
	return errInvalidToken
}

// RequireAuth guards mutating routes with bearer-token auth.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.authorize(r); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
