package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// stubLimiter lets tests choose the throttle verdict.
type stubLimiter struct {
	allow bool
	calls int
}

func (s *stubLimiter) Allow(_ context.Context, _ string) (bool, error) {
	s.calls++
	return s.allow, nil
}

func (s *stubLimiter) Close() error { return nil }

func newTestGateway(t *testing.T, limiter *stubLimiter) *Gateway {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), 10)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error: %v", err)
	}
	codec := NewTokenCodec([]byte("gateway-test-secret"), time.Hour, false)
	return NewGateway("admin", string(hash), testTOTPSecret, codec, limiter)
}

func TestGateway_Login(t *testing.T) {
	ctx := context.Background()
	code := totpCodeAt(t, time.Now().UTC())

	tests := []struct {
		name     string
		username string
		password string
		code     string
		allow    bool
		wantErr  error
	}{
		{name: "valid login", username: "admin", password: "hunter2hunter2", code: code, allow: true, wantErr: nil},
		{name: "wrong username", username: "root", password: "hunter2hunter2", code: code, allow: true, wantErr: ErrInvalidCredentials},
		{name: "wrong password", username: "admin", password: "wrong", code: code, allow: true, wantErr: ErrInvalidCredentials},
		{name: "wrong code", username: "admin", password: "hunter2hunter2", code: "000000", allow: true, wantErr: ErrInvalidTOTP},
		{name: "throttled", username: "admin", password: "hunter2hunter2", code: code, allow: false, wantErr: ErrThrottled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &stubLimiter{allow: tt.allow}
			gw := newTestGateway(t, limiter)

			token, err := gw.Login(ctx, tt.username, tt.password, tt.code, "203.0.113.7")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			identity, authErr := gw.RequireAuth(token)
			if authErr != nil {
				t.Fatalf("RequireAuth() rejected token from Login(): %v", authErr)
			}
			if identity != tt.username {
				t.Errorf("RequireAuth() identity = %q, want %q", identity, tt.username)
			}
		})
	}
}

func TestGateway_UsernameAndPasswordFailuresIndistinguishable(t *testing.T) {
	gw := newTestGateway(t, &stubLimiter{allow: true})
	ctx := context.Background()
	code := totpCodeAt(t, time.Now().UTC())

	_, errUser := gw.Login(ctx, "someone-else", "hunter2hunter2", code, "src")
	_, errPass := gw.Login(ctx, "admin", "not-the-password", code, "src")

	if errUser.Error() != errPass.Error() {
		t.Errorf("username failure %q and password failure %q must be identical", errUser, errPass)
	}
}

func TestGateway_RequireAuth(t *testing.T) {
	gw := newTestGateway(t, &stubLimiter{allow: true})

	if _, err := gw.RequireAuth(""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RequireAuth(empty) error = %v, want ErrUnauthorized", err)
	}
	if _, err := gw.RequireAuth("garbage.token.here"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RequireAuth(garbage) error = %v, want ErrUnauthorized", err)
	}
}
