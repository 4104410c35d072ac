package userstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AdminClaims identifies the admin/management session a token was
// issued for — used by internal/httpapi to gate the user-provisioning
// endpoints (add/remove downstream credential, rotate password), never
// by the Xtream/HDHomeRun/XMLTV surfaces, which stay on the
// username/password-in-URL scheme Xtream clients expect.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates admin session tokens, grounded on
// yourflock-roost's internal/auth.GenerateAccessToken/ValidateAccessToken:
// HS256, a server-held secret, a short expiry, and a unique jti per
// token so a compromised token can be named in an audit log even
// though this deployment has no revocation store of its own.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if expiry == 0 {
		expiry = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// Issue mints a token for the given admin subject (typically a
// configured admin username, not a downstream Xtream credential).
func (t *TokenIssuer) Issue(subject string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("userstore: token issuer has no secret configured")
	}
	now := time.Now()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			Issuer:    "xtreamrelay",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses and verifies a bearer token, returning its claims.
func (t *TokenIssuer) Validate(tokenString string) (*AdminClaims, error) {
	if len(t.secret) == 0 {
		return nil, errors.New("userstore: token issuer has no secret configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("userstore: unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("userstore: invalid token")
	}
	return claims, nil
}
