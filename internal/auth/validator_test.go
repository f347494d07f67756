package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/lumina-api/internal/revocation"
)

func TestValidateExpiredToken(t *testing.T) {
	issuer, validator, _ := newTestAuth(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	// Access TTL is five minutes.
	validator.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	_, err = validator.Validate(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateTokenFromTheFuture(t *testing.T) {
	issuer, validator, _ := newTestAuth(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	validator.now = func() time.Time { return time.Now().Add(-time.Minute) }
	_, err = validator.Validate(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateClockSkewTolerance(t *testing.T) {
	cfg := testAuthConfig()
	cfg.ClockSkewSeconds = 30
	codec := NewCodec(cfg.JWTSecret, cfg.JWTKeyID)
	store := revocation.NewMemoryStore()
	issuer := NewIssuer(codec, store, cfg)
	validator := NewValidator(codec, store, cfg)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	// Ten seconds past expiry falls inside the grace window.
	validator.now = func() time.Time { return pair.AccessExpiresAt.Add(10 * time.Second) }
	_, err = validator.Validate(ctx, pair.AccessToken, nil)
	require.NoError(t, err)

	// A minute past expiry does not.
	validator.now = func() time.Time { return pair.AccessExpiresAt.Add(time.Minute) }
	_, err = validator.Validate(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateScopeChecks(t *testing.T) {
	issuer, validator, _ := newTestAuth(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	cases := []struct {
		name     string
		required []string
		wantErr  error
	}{
		{name: "no scopes required", required: nil},
		{name: "held scope", required: []string{"profile:read"}},
		{name: "all held scopes", required: []string{"profile:read", "events:subscribe"}},
		{name: "missing scope", required: []string{"admin:write"}, wantErr: ErrInsufficientScope},
		{name: "partially held", required: []string{"profile:read", "admin:write"}, wantErr: ErrInsufficientScope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(ctx, pair.AccessToken, tc.required)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateRejectsRefreshTokenAsBearer(t *testing.T) {
	issuer, validator, _ := newTestAuth(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	_, err = validator.Validate(ctx, pair.RefreshToken, nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestValidateMalformedInput(t *testing.T) {
	_, validator, _ := newTestAuth(t)
	_, err := validator.Validate(context.Background(), "garbage", nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestValidateConcurrentWithRevoke(t *testing.T) {
	issuer, validator, _ := newTestAuth(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, testIdentity())
	require.NoError(t, err)

	unexpected := make(chan error, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			// Either outcome is fine while the revoke is in flight; the
			// call must simply never fail with anything else.
			if _, err := validator.Validate(ctx, pair.AccessToken, nil); err != nil && !errors.Is(err, ErrRevoked) {
				unexpected <- err
			}
		}
	}()

	require.NoError(t, issuer.Revoke(ctx, pair.AccessToken))
	<-done
	close(unexpected)
	for err := range unexpected {
		t.Errorf("unexpected validation failure: %v", err)
	}

	// Once the revoke has completed, validation must observe it.
	_, err = validator.Validate(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, ErrRevoked)
}
