package auth

import (
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/lumina-api/internal/domain"
)

// Claims describes the signed JWT payload.
type Claims struct {
	Scopes []string         `json:"scopes,omitempty"`
	Kind   domain.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes signed claim sets. The signing key is loaded
// once at construction; each token carries a key id header so verification
// can grow to a key set without changing callers. Decode checks signature
// and structure only; temporal and revocation checks belong to the
// Validator, which owns the clock.
type Codec struct {
	keyID  string
	secret []byte
	parser *jwt.Parser
}

// NewCodec builds a codec for the given HMAC secret and key id.
func NewCodec(secret, keyID string) *Codec {
	return &Codec{
		keyID:  keyID,
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Encode signs the claims and returns the compact token string.
func (c *Codec) Encode(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the embedded claims. Failures
// are ErrInvalidSignature for tamper/verification errors and ErrMalformed
// for anything structurally wrong.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	parsed, err := c.parser.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrMalformed)
	}
	switch claims.Kind {
	case domain.TokenKindAccess, domain.TokenKindRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrMalformed, claims.Kind)
	}
	return claims, nil
}
