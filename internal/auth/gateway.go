package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"gitpress/internal/throttle"
)

var (
	// ErrInvalidCredentials covers both username and password failures so a
	// caller cannot tell which stage rejected the attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidTOTP        = errors.New("invalid one-time code")
	ErrThrottled          = errors.New("too many login attempts")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Gateway composes the throttle, the credential checks and the token codec
// into the single entry point that accepts or rejects login attempts and
// gates every mutating operation.
type Gateway struct {
	username     string
	passwordHash string
	totpSecret   string
	codec        *TokenCodec
	limiter      throttle.Limiter
}

func NewGateway(username, passwordHash, totpSecret string, codec *TokenCodec, limiter throttle.Limiter) *Gateway {
	return &Gateway{
		username:     username,
		passwordHash: passwordHash,
		totpSecret:   totpSecret,
		codec:        codec,
		limiter:      limiter,
	}
}

// Login runs throttle check, username match, password verify and one-time
// code verify in order, short-circuiting on the first failure. The throttle
// check runs before any verification work so rejected attempts stay cheap.
func (g *Gateway) Login(ctx context.Context, username, password, code, sourceKey string) (string, error) {
	allowed, err := g.limiter.Allow(ctx, sourceKey)
	if err == nil && !allowed {
		return "", ErrThrottled
	}

	if subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) != 1 {
		return "", ErrInvalidCredentials
	}
	if !VerifyPassword(password, g.passwordHash) {
		return "", ErrInvalidCredentials
	}
	if !VerifyTOTP(code, g.totpSecret) {
		return "", ErrInvalidTOTP
	}

	token, err := g.codec.Issue(username)
	if err != nil {
		return "", err
	}
	return token, nil
}

// RequireAuth validates an incoming session token and returns the identity,
// or ErrUnauthorized with no further detail.
func (g *Gateway) RequireAuth(token string) (string, error) {
	identity, ok := g.codec.Validate(token)
	if !ok {
		return "", ErrUnauthorized
	}
	return identity, nil
}

// Codec exposes the token codec for cookie handling in the HTTP layer.
func (g *Gateway) Codec() *TokenCodec {
	return g.codec
}
