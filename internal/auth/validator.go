package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/revocation"
)

// IdentityContext is the result of a successful validation: the identity
// the token was minted for plus the token's own metadata.
type IdentityContext struct {
	Identity  domain.Identity
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Validator checks presented access tokens. Checks run cheapest first:
// signature and structure, then the clock, then the revocation store, then
// scopes. Malformed input never costs a store lookup.
type Validator struct {
	codec *Codec
	store revocation.Store
	skew  time.Duration
	now   func() time.Time
}

// NewValidator builds a validator sharing the issuer's codec and store.
func NewValidator(codec *Codec, store revocation.Store, cfg config.AuthConfig) *Validator {
	return &Validator{
		codec: codec,
		store: store,
		skew:  cfg.ClockSkew(),
		now:   time.Now,
	}
}

// Validate verifies the access token and required scopes, returning the
// identity context on success. Failure kinds: ErrMalformed,
// ErrInvalidSignature, ErrExpired, ErrRevoked, ErrInsufficientScope.
func (v *Validator) Validate(ctx context.Context, tokenStr string, requiredScopes []string) (*IdentityContext, error) {
	claims, err := v.codec.Decode(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.TokenKindAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrMalformed)
	}

	now := v.now()
	iat := claims.IssuedAt.Time
	exp := claims.ExpiresAt.Time
	if now.Add(v.skew).Before(iat) || now.After(exp.Add(v.skew)) {
		return nil, ErrExpired
	}

	revoked, err := v.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	identity := domain.Identity{Subject: claims.Subject, Scopes: claims.Scopes}
	if !identity.HasScopes(requiredScopes) {
		return nil, ErrInsufficientScope
	}

	return &IdentityContext{
		Identity:  identity,
		TokenID:   claims.ID,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
