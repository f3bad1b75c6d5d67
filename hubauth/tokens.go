package hubauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrMalformedToken is returned when a token issued by the hub cannot be
// parsed or is missing its lifetime claims.
var ErrMalformedToken = errors.New("hubauth: malformed token")

// Token is a single bearer token together with the lifetime claims it
// carries.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is expired at the given instant.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// TokenPair is an access token and an optional refresh token as issued by a
// single authentication or refresh call. A pair is replaced wholesale, never
// partially mutated.
type TokenPair struct {
	AccessToken  Token
	RefreshToken *Token
}

// parseToken extracts the iat/exp claims from a signed token. The broker is
// not the token's verifier, so the signature is not checked here; the hub
// rejects tampered tokens on use.
func parseToken(value string) (Token, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Token{}, fmt.Errorf("%w: missing iat or exp claim", ErrMalformedToken)
	}
	return Token{
		Value:     value,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
