package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrBadToken     = errors.New("invalid token")
)

// StaticToken checks requests against one shared service token. An empty
// token disables the check.
type StaticToken struct {
	token []byte
}

func NewStaticToken(token string) StaticToken {
	return StaticToken{token: []byte(strings.TrimSpace(token))}
}

func (s StaticToken) Enabled() bool { return len(s.token) > 0 }

func (s StaticToken) Verify(presented string) error {
	if !s.Enabled() {
		return nil
	}
	if presented == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(presented), s.token) != 1 {
		return ErrBadToken
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
