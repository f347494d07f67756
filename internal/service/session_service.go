package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/auth"
	"github.com/spec-kit/lumina-api/internal/config"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/realtime"
	"github.com/spec-kit/lumina-api/internal/repository"
)

// defaultScopes are granted to newly registered accounts.
var defaultScopes = []string{"profile:read", "events:subscribe"}

// Login failure kinds. Handlers present all of them as the same generic
// response; the distinction exists for logs and tests only.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountSuspended   = errors.New("account suspended")
)

// SessionService coordinates registration, login and session teardown. It
// owns the credential check; token lifecycle belongs to the issuer.
type SessionService struct {
	users      repository.UserRepository
	issuer     *auth.Issuer
	registry   *realtime.Registry
	bcryptCost int
	logger     *zap.Logger
}

// SessionDependencies encapsulates collaborators for the session service.
type SessionDependencies struct {
	UserRepo repository.UserRepository
	Issuer   *auth.Issuer
	Registry *realtime.Registry
	Logger   *zap.Logger
}

// NewSessionService builds the service.
func NewSessionService(cfg config.Config, deps SessionDependencies) *SessionService {
	return &SessionService{
		users:      deps.UserRepo,
		issuer:     deps.Issuer,
		registry:   deps.Registry,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     deps.Logger,
	}
}

// Register creates a credential record and issues the first token pair.
func (s *SessionService) Register(ctx context.Context, name, email, password string) (*domain.User, *domain.TokenPair, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, nil, errors.New("email already registered")
	} else if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Scopes:       defaultScopes,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	pair, err := s.issuer.Issue(ctx, user.Identity())
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies credentials and issues a token pair.
func (s *SessionService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, nil, ErrAccountSuspended
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuer.Issue(ctx, user.Identity())
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("session opened", zap.String("subject", user.ID))
	return user, pair, nil
}

// Refresh rotates the presented refresh token into a new pair.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return s.issuer.Refresh(ctx, refreshToken)
}

// Logout revokes the presented tokens and evicts the subject's live
// connections.
func (s *SessionService) Logout(ctx context.Context, subject, accessToken, refreshToken string) error {
	if err := s.issuer.Revoke(ctx, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.issuer.Revoke(ctx, refreshToken); err != nil {
			// The access token is already revoked; an undecodable refresh
			// token does not resurrect the session.
			s.logger.Warn("refresh token revoke failed on logout",
				zap.String("subject", subject), zap.Error(err))
		}
	}
	evicted := s.registry.EvictSubject(subject)
	s.logger.Info("session closed",
		zap.String("subject", subject),
		zap.Int("connections_evicted", evicted))
	return nil
}
