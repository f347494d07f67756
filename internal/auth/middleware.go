package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/lumina-api/pkg/util"
)

const identityKey = "auth_identity"

// Middleware validates bearer tokens on protected routes and exposes the
// resulting identity context to downstream handlers.
type Middleware struct {
	validator *Validator
}

// NewMiddleware constructs middleware.
func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

// Handle enforces authentication for protected routes.
func (m *Middleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	identity, err := m.validator.Validate(c.UserContext(), parts[1], nil)
	if err != nil {
		return MapError(err)
	}

	c.Locals(identityKey, identity)
	return c.Next()
}

// RequireScopes ensures the authenticated identity holds every listed scope.
func RequireScopes(scopes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !identity.Identity.HasScopes(scopes) {
			return MapError(ErrInsufficientScope)
		}
		return c.Next()
	}
}

// IdentityFromContext retrieves the authenticated identity context.
func IdentityFromContext(c *fiber.Ctx) (*IdentityContext, bool) {
	val := c.Locals(identityKey)
	if val == nil {
		return nil, false
	}
	identity, ok := val.(*IdentityContext)
	return identity, ok
}

// MapError converts a core auth failure into the transport error shape, so
// the API layer renders the specific kind to the client.
func MapError(err error) error {
	switch {
	case errors.Is(err, ErrMalformed):
		return apperrors.NewUnauthorizedCode("MALFORMED_TOKEN", "token is malformed")
	case errors.Is(err, ErrInvalidSignature):
		return apperrors.NewUnauthorizedCode("INVALID_SIGNATURE", "token signature is invalid")
	case errors.Is(err, ErrExpired):
		return apperrors.NewUnauthorizedCode("TOKEN_EXPIRED", "token has expired")
	case errors.Is(err, ErrRevoked):
		return apperrors.NewUnauthorizedCode("TOKEN_REVOKED", "token has been revoked")
	case errors.Is(err, ErrReuseDetected):
		return apperrors.NewUnauthorizedCode("REUSE_DETECTED", "refresh token reuse detected; all sessions revoked")
	case errors.Is(err, ErrInsufficientScope):
		return apperrors.NewForbidden("insufficient scope")
	default:
		return apperrors.MapError(err)
	}
}
