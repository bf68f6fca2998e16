// Package auth mints and verifies the signed, stateless access tokens and
// carries the authenticated principal through request contexts.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access-token claims: the registered set (sub, iss, aud,
// exp, iat, jti) plus one "role" entry per role.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"role,omitempty"`
}

// DefaultRenewalWindow is how long after expiry an access token still
// identifies its owner for a renewal.
const DefaultRenewalWindow = 7 * 24 * time.Hour

// Issuer signs access tokens with HS256 over a shared secret.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	lifetime time.Duration
	renewal  time.Duration

	now  func() time.Time
	sign func(t *jwt.Token, key []byte) (string, error)
}

type IssuerOption func(*Issuer)

// WithRenewalWindow sets how long past its expiry ParseExpired still accepts
// a token. Non-positive values keep the default.
func WithRenewalWindow(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		if d > 0 {
			i.renewal = d
		}
	}
}

func NewIssuer(secret []byte, issuer, audience string, lifetime time.Duration, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		lifetime: lifetime,
		renewal:  DefaultRenewalWindow,
		now:      time.Now,
		sign: func(t *jwt.Token, key []byte) (string, error) {
			return t.SignedString(key)
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Lifetime is the configured access-token lifetime.
func (i *Issuer) Lifetime() time.Duration { return i.lifetime }

// Mint returns a signed access token for userID carrying roles. Duplicate
// roles are collapsed. A signer failure or an empty result is reported as
// common.ErrTokenGeneration.
func (i *Issuer) Mint(userID string, roles []string) (string, error) {
	now := i.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
			ID:        uuid.NewString(),
		},
		Roles: dedupe(roles),
	}

	s, err := i.sign(jwt.NewWithClaims(jwt.SigningMethodHS256, claims), i.secret)
	if err != nil {
		return "", fmt.Errorf("sign: %v: %w", err, common.ErrTokenGeneration)
	}
	if s == "" {
		return "", fmt.Errorf("empty token: %w", common.ErrTokenGeneration)
	}
	return s, nil
}

// Parse verifies signature, issuer, audience and expiry. An expired but
// otherwise valid token yields common.ErrTokenExpired, anything else
// common.ErrInvalidToken.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%v: %w", err, common.ErrInvalidToken)
	}
	return claims, nil
}

// ParseExpired is Parse with the expiry relaxed by the renewal window. It
// identifies the caller of a token renewal whose access token has already
// lapsed. Tokens past the window, or without an expiry, are
// common.ErrInvalidToken.
func (i *Issuer) ParseExpired(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, common.ErrInvalidToken)
	}

	if claims.Issuer != i.issuer || !slices.Contains(claims.Audience, i.audience) || claims.Subject == "" {
		return nil, fmt.Errorf("foreign token: %w", common.ErrInvalidToken)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token has no expiry: %w", common.ErrInvalidToken)
	}
	if i.now().After(claims.ExpiresAt.Add(i.renewal)) {
		return nil, fmt.Errorf("renewal window closed: %w", common.ErrInvalidToken)
	}
	return claims, nil
}

func (i *Issuer) keyFunc(*jwt.Token) (any, error) {
	return i.secret, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
