package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/revocation"
)

// issuedToken tracks one outstanding token id for a subject so a
// compromise signal can revoke every live session at once.
type issuedToken struct {
	jti       string
	expiresAt time.Time
}

// Issuer mints access/refresh pairs and performs refresh rotation. It keeps
// two pieces of per-process state beyond the revocation store: the set of
// refresh token ids that have already been rotated (reuse of one of these is
// a compromise signal) and an index of outstanding token ids per subject
// (so RevokeAll can invalidate every live session). Both are pruned as
// entries pass their natural expiry.
type Issuer struct {
	codec      *Codec
	store      revocation.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
	skew       time.Duration

	mu       sync.Mutex
	rotated  map[string]time.Time
	sessions map[string][]issuedToken

	onRevokeAll func(subject string)
	now         func() time.Time
}

// NewIssuer builds an issuer from the auth configuration.
func NewIssuer(codec *Codec, store revocation.Store, cfg config.AuthConfig) *Issuer {
	return &Issuer{
		codec:      codec,
		store:      store,
		accessTTL:  cfg.AccessTokenTTL(),
		refreshTTL: cfg.RefreshTokenTTL(),
		skew:       cfg.ClockSkew(),
		rotated:    make(map[string]time.Time),
		sessions:   make(map[string][]issuedToken),
		now:        time.Now,
	}
}

// OnRevokeAll registers a hook invoked after all of a subject's sessions
// have been revoked, e.g. to evict the subject's live connections.
func (i *Issuer) OnRevokeAll(fn func(subject string)) {
	i.onRevokeAll = fn
}

// Issue mints a fresh access/refresh pair for the identity. Each token gets
// its own cryptographically random id.
func (i *Issuer) Issue(ctx context.Context, identity domain.Identity) (*domain.TokenPair, error) {
	now := i.now()

	accessJTI := uuid.NewString()
	accessExp := now.Add(i.accessTTL)
	access, err := i.codec.Encode(i.newClaims(identity, domain.TokenKindAccess, accessJTI, now, accessExp))
	if err != nil {
		return nil, err
	}

	refreshJTI := uuid.NewString()
	refreshExp := now.Add(i.refreshTTL)
	refresh, err := i.codec.Encode(i.newClaims(identity, domain.TokenKindRefresh, refreshJTI, now, refreshExp))
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.trackLocked(identity.Subject, issuedToken{jti: accessJTI, expiresAt: accessExp})
	i.trackLocked(identity.Subject, issuedToken{jti: refreshJTI, expiresAt: refreshExp})
	i.mu.Unlock()

	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the old token
// out. A refresh token that was already rotated fails with ErrReuseDetected
// and revokes every outstanding session of its subject.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := i.codec.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.TokenKindRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrMalformed)
	}

	now := i.now()
	exp := claims.ExpiresAt.Time
	if now.After(exp.Add(i.skew)) {
		return nil, ErrExpired
	}

	// Reuse of a rotated token is the compromise signal; check it before the
	// revocation store so a replay keeps reporting reuse even though rotation
	// also revoked the old id.
	if i.wasRotated(claims.ID) {
		if err := i.RevokeAll(ctx, claims.Subject); err != nil {
			return nil, fmt.Errorf("%w: revoking sessions: %v", ErrReuseDetected, err)
		}
		return nil, ErrReuseDetected
	}

	// A token revoked without ever rotating (logout) is just revoked;
	// replaying it must not escalate to a subject-wide revocation.
	revoked, err := i.store.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}

	// Check-and-set must be atomic so two racing exchanges of the same token
	// resolve to exactly one winner.
	i.mu.Lock()
	if _, reused := i.rotated[claims.ID]; reused {
		i.mu.Unlock()
		if err := i.RevokeAll(ctx, claims.Subject); err != nil {
			return nil, fmt.Errorf("%w: revoking sessions: %v", ErrReuseDetected, err)
		}
		return nil, ErrReuseDetected
	}
	i.rotated[claims.ID] = exp
	i.pruneLocked(now)
	i.mu.Unlock()

	if err := i.store.Revoke(ctx, claims.ID, exp); err != nil {
		// Leave the token usable for a retry; rotation has not happened.
		i.mu.Lock()
		delete(i.rotated, claims.ID)
		i.mu.Unlock()
		return nil, err
	}

	return i.Issue(ctx, domain.Identity{Subject: claims.Subject, Scopes: claims.Scopes})
}

// Revoke invalidates a single presented token (logout). The token must
// decode, but an expired token revokes cleanly; the entry just never
// matters.
func (i *Issuer) Revoke(ctx context.Context, tokenStr string) error {
	claims, err := i.codec.Decode(tokenStr)
	if err != nil {
		return err
	}
	return i.store.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// RevokeAll invalidates every outstanding token id of the subject and
// notifies the revoke-all hook.
func (i *Issuer) RevokeAll(ctx context.Context, subject string) error {
	i.mu.Lock()
	tokens := i.sessions[subject]
	delete(i.sessions, subject)
	i.mu.Unlock()

	for _, t := range tokens {
		if err := i.store.Revoke(ctx, t.jti, t.expiresAt); err != nil {
			return err
		}
	}
	if i.onRevokeAll != nil {
		i.onRevokeAll(subject)
	}
	return nil
}

func (i *Issuer) newClaims(identity domain.Identity, kind domain.TokenKind, jti string, iat, exp time.Time) *Claims {
	return &Claims{
		Scopes: identity.Scopes,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func (i *Issuer) trackLocked(subject string, token issuedToken) {
	now := i.now()
	live := i.sessions[subject][:0]
	for _, t := range i.sessions[subject] {
		if t.expiresAt.After(now) {
			live = append(live, t)
		}
	}
	i.sessions[subject] = append(live, token)
}

func (i *Issuer) wasRotated(jti string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.rotated[jti]
	return ok
}

// pruneLocked drops rotation entries and session index entries whose tokens
// have expired, so subjects that never come back do not accumulate state.
func (i *Issuer) pruneLocked(now time.Time) {
	for jti, exp := range i.rotated {
		if now.After(exp.Add(i.skew)) {
			delete(i.rotated, jti)
		}
	}
	for subject, tokens := range i.sessions {
		live := tokens[:0]
		for _, t := range tokens {
			if t.expiresAt.After(now) {
				live = append(live, t)
			}
		}
		if len(live) == 0 {
			delete(i.sessions, subject)
			continue
		}
		i.sessions[subject] = live
	}
}
