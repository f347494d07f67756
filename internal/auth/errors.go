package auth

import "errors"

// Failure kinds surfaced by the codec, issuer and validator. Every failure
// is terminal for the presented token; callers map kinds to responses.
var (
	// ErrMalformed marks a structurally invalid token string.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature marks a token whose signature does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired marks a token outside its validity window.
	ErrExpired = errors.New("token expired")
	// ErrRevoked marks a token whose id has been invalidated.
	ErrRevoked = errors.New("token revoked")
	// ErrReuseDetected marks a second use of an already-rotated refresh
	// token. All sessions of the subject are revoked when this is raised.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrInsufficientScope marks a valid token lacking a required scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)
