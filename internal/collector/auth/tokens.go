// Package auth verifies Matrix OpenID tokens with the user-verification service and
// issues and validates the HS256 feedback credentials handed to the bridge.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a feedback credential is malformed, badly signed, or expired.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotBearer is returned when the authorization header does not carry a bearer token.
	ErrNotBearer = errors.New("authentication header value has not matched / is not a bearer token")
)

// Claims are the feedback credential claims. userId is the verified Matrix user.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
}

// TokenIssuer issues and validates feedback credentials signed with a shared HMAC secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret. Credentials expire after ttl; ttl <= 0 disables expiry.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a credential for userID, valid from now.
func (p *TokenIssuer) Issue(userID string) (token string, expiresAt time.Time, err error) {
	now := p.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID: userID,
	}
	if p.ttl > 0 {
		expiresAt = now.Add(p.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	return token, expiresAt, err
}

// Validate checks signature, algorithm, nbf, and exp, and returns the claims.
// Every failure is reported as ErrInvalidToken.
func (p *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header value.
// The scheme is matched case-insensitively; an empty token is allowed.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNotBearer
	}
	return strings.TrimSpace(token), nil
}
