// Package tokens decodes and mints the JWT access tokens carried in admin sessions.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims the session service cares about.
type Claims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ExpiryFromJWT reads the exp claim of raw without verifying the signature.
// The signature is the backend's concern; the session service only needs to
// know when the token stops being usable.
func ExpiryFromJWT(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty token")
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

// Minter issues and verifies HS256 tokens. Used by the dev auth backend.
type Minter struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewMinter builds a Minter. now defaults to time.Now.
func NewMinter(secret, issuer string, now func() time.Time) (*Minter, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Minter{secret: []byte(secret), issuer: issuer, now: now}, nil
}

// Mint signs a token for subject valid for ttl.
func (m *Minter) Mint(subject, email, name string, ttl time.Duration) (string, time.Time, error) {
	issued := m.now()
	exp := issued.Add(ttl)
	claims := Claims{
		Email:       email,
		DisplayName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the signature and expiry of raw and returns its claims.
func (m *Minter) Verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &claims, nil
}
