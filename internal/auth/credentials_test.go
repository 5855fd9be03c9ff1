package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"gitpress/internal/constants"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

func totpCodeAt(t *testing.T, when time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(testTOTPSecret, when, totp.ValidateOpts{
		Period:    constants.TOTPPeriod,
		Skew:      constants.TOTPSkew,
		Digits:    otp.Digits(constants.TOTPDigits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error: %v", err)
	}
	return code
}

func TestVerifyPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), 10)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error: %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{name: "correct password", password: "correct horse", hash: string(hash), want: true},
		{name: "wrong password", password: "battery staple", hash: string(hash), want: false},
		{name: "empty password", password: "", hash: string(hash), want: false},
		{name: "garbage hash", password: "correct horse", hash: "not-a-hash", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.password, tt.hash); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyTOTP(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "current step", code: totpCodeAt(t, now), want: true},
		{name: "one step behind", code: totpCodeAt(t, now.Add(-constants.TOTPPeriod*time.Second)), want: true},
		{name: "one step ahead", code: totpCodeAt(t, now.Add(constants.TOTPPeriod*time.Second)), want: true},
		{name: "two steps behind", code: totpCodeAt(t, now.Add(-2*constants.TOTPPeriod*time.Second)), want: true},
		{name: "far outside window", code: totpCodeAt(t, now.Add(-10*constants.TOTPPeriod*time.Second)), want: false},
		{name: "not a code", code: "abcdef", want: false},
		{name: "empty code", code: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyTOTP(tt.code, testTOTPSecret); got != tt.want {
				t.Errorf("VerifyTOTP(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}
