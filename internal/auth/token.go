package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitpress/internal/constants"
)

// TokenCodec issues and validates signed session tokens. Validity is fully
// determined by the token's signature and embedded timestamps, there is no
// server-side session table.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewTokenCodec(secret []byte, ttl time.Duration, secure bool) *TokenCodec {
	if ttl <= 0 {
		ttl = constants.SessionTTL
	}
	return &TokenCodec{secret: secret, ttl: ttl, secure: secure}
}

// Issue produces a token embedding the identity, issued-at and expiry.
func (c *TokenCodec) Issue(identity string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Validate fails closed: any signature mismatch, malformed payload or expiry
// in the past yields ok=false, never an error to the caller.
func (c *TokenCodec) Validate(tokenStr string) (string, bool) {
	if tokenStr == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// SetCookie writes the session token as an HTTP-only, same-site-strict cookie.
func (c *TokenCodec) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: constants.SessionCookieSameSite,
	})
}

// ClearCookie emits a cookie with immediate expiry.
func (c *TokenCodec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: constants.SessionCookieSameSite,
	})
}

// FromRequest extracts the raw session token from the request cookie, or ""
// when absent.
func FromRequest(r *http.Request) string {
	cookie, err := r.Cookie(constants.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
