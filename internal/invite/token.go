package invite

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// TokenIssuer produces invite tokens. Tokens must be unguessable and never
// repeat.
type TokenIssuer interface {
	Issue() (string, error)
}

type TokenIssuerFunc func() (string, error)

func (f TokenIssuerFunc) Issue() (string, error) {
	return f()
}

// RandomTokens issues 256 bit random tokens, URL safe encoded.
var RandomTokens TokenIssuer = TokenIssuerFunc(func() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
})

// URL returns the signup link carrying token.
func URL(webOrigin, token string) string {
	return webOrigin + "/signup?invite=" + token
}
