package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"gitpress/internal/constants"
)

// VerifyPassword checks a plaintext password against a bcrypt hash.
// bcrypt runs its full comparison regardless of where the inputs diverge.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// VerifyTOTP checks a time-based one-time code against a base32 secret.
// Skew of 2 steps accepts codes up to 60s on either side of the clock.
func VerifyTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    constants.TOTPPeriod,
		Skew:      constants.TOTPSkew,
		Digits:    otp.Digits(constants.TOTPDigits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
