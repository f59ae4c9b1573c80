// Package auth issues and verifies the tokens that activate a relay connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"duocall/pkg/callerr"
)

// DefaultTokenTTL is the default lifetime of an issued token.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrEmptySecret is returned when no signing secret is configured.
	ErrEmptySecret = errors.New("empty signing secret")

	// ErrEmptyUserID is returned when issuing a token without a user id.
	ErrEmptyUserID = errors.New("empty user id")
)

// Authenticator signs and verifies HMAC tokens whose subject is the user id.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// New creates a new Authenticator. A non-positive ttl uses DefaultTokenTTL.
func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Issue signs a token for the user.
func (a *Authenticator) Issue(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks the token and returns the user id it was issued for. Every
// failure is reported with the Unauthorized kind.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", callerr.New(callerr.Unauthorized, "verify token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", callerr.New(callerr.Unauthorized, "verify token", ErrEmptyUserID)
	}
	return claims.Subject, nil
}
