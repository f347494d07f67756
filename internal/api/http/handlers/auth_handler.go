package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lumina-api/internal/api/dto"
	"github.com/spec-kit/lumina-api/internal/auth"
	"github.com/spec-kit/lumina-api/internal/domain"
	"github.com/spec-kit/lumina-api/internal/service"
	apperrors "github.com/spec-kit/lumina-api/pkg/util"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	sessions *service.SessionService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "name, email, password required")
	}

	user, pair, err := h.sessions.Register(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    user.ID,
				"name":  user.Name,
				"email": user.Email,
			},
			"auth": toTokenPairResponse(pair),
		},
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	user, pair, err := h.sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return loginError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":     user.ID,
				"name":   user.Name,
				"email":  user.Email,
				"scopes": user.Scopes,
			},
			"auth": toTokenPairResponse(pair),
		},
	})
}

// Refresh handles POST /auth/refresh. Reuse of a rotated refresh token has
// already revoked the subject's sessions by the time the distinct error
// code reaches the client.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		return fiber.NewError(http.StatusBadRequest, "refresh_token required")
	}

	pair, err := h.sessions.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return auth.MapError(err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"auth": toTokenPairResponse(pair)}})
}

// Logout handles POST /auth/logout. Requires a valid bearer token; revokes
// it together with the supplied refresh token and evicts the subject's
// realtime connections.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.LogoutRequest
	_ = c.BodyParser(&req)

	accessToken := bearerToken(c)
	if err := h.sessions.Logout(c.UserContext(), identity.Identity.Subject, accessToken, req.RefreshToken); err != nil {
		return auth.MapError(err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// Me handles GET /auth/me and echoes the authenticated identity.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"subject":    identity.Identity.Subject,
			"scopes":     identity.Identity.Scopes,
			"expires_at": identity.ExpiresAt,
		},
	})
}

// loginError maps every credential failure to the same opaque response so
// the client learns nothing about which check failed. Anything else is an
// internal fault and is rendered as such.
func loginError(err error) error {
	if errors.Is(err, service.ErrInvalidCredentials) || errors.Is(err, service.ErrAccountSuspended) {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	return apperrors.MapError(err)
}

func bearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get("Authorization"), " ", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

func toTokenPairResponse(pair *domain.TokenPair) dto.TokenPairResponse {
	return dto.TokenPairResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}
