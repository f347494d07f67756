package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/auth"
	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/realtime"
	"github.com/spec-kit/lumina-api/internal/revocation"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
	seq   int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type sessionFixture struct {
	service   *SessionService
	validator *auth.Validator
	registry  *realtime.Registry
	issuer    *auth.Issuer
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			JWTKeyID:              "primary",
			AccessTokenTTLMinutes: 5,
			RefreshTokenTTLHours:  24,
			BcryptCost:            4,
		},
	}
	codec := auth.NewCodec(cfg.Auth.JWTSecret, cfg.Auth.JWTKeyID)
	store := revocation.NewMemoryStore()
	issuer := auth.NewIssuer(codec, store, cfg.Auth)
	validator := auth.NewValidator(codec, store, cfg.Auth)
	registry := realtime.NewRegistry(validator, 16, zap.NewNop())
	issuer.OnRevokeAll(func(subject string) { registry.EvictSubject(subject) })

	svc := NewSessionService(cfg, SessionDependencies{
		UserRepo: newFakeUserRepo(),
		Issuer:   issuer,
		Registry: registry,
		Logger:   zap.NewNop(),
	})
	return &sessionFixture{service: svc, validator: validator, registry: registry, issuer: issuer}
}

func TestRegisterIssuesValidPair(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	user, pair, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, defaultScopes, user.Scopes)

	identity, err := f.validator.Validate(ctx, pair.AccessToken, []string{"events:subscribe"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.Identity.Subject)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)

	_, _, err = f.service.Register(ctx, "Imposter", "ada@example.com", "other")
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	registered, _, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)

	user, pair, err := f.service.Login(ctx, "ada@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = f.validator.Validate(ctx, pair.AccessToken, nil)
	require.NoError(t, err)

	_, _, err = f.service.Login(ctx, "ada@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.service.Login(ctx, "nobody@example.com", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginRejectsSuspendedAccount(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	user, _, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)
	user.Status = domain.UserStatusSuspended

	_, _, err = f.service.Login(ctx, "ada@example.com", "s3cret")
	require.ErrorIs(t, err, ErrAccountSuspended)
}

func TestLogoutRevokesAndEvicts(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	user, pair, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)

	conn, err := f.registry.Admit(ctx, "c1", pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, user.ID, pair.AccessToken, pair.RefreshToken))

	_, err = f.validator.Validate(ctx, pair.AccessToken, nil)
	require.ErrorIs(t, err, auth.ErrRevoked)
	_, err = f.issuer.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, auth.ErrRevoked)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not evicted on logout")
	}
	assert.Empty(t, f.registry.LookupBySubject(user.ID))
}

func TestRefreshReuseEvictsConnections(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, pair1, err := f.service.Register(ctx, "Ada", "ada@example.com", "s3cret")
	require.NoError(t, err)

	pair2, err := f.service.Refresh(ctx, pair1.RefreshToken)
	require.NoError(t, err)

	conn, err := f.registry.Admit(ctx, "c1", pair2.AccessToken)
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, pair1.RefreshToken)
	require.ErrorIs(t, err, auth.ErrReuseDetected)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection survived session revocation")
	}
}
