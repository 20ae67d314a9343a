package download

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const otpDigits = 1000000

// OTPValidity is how long an issued code stays usable.
const OTPValidity = 24 * 60 * 60 // seconds

// GenerateOTP returns a zero-padded six digit one-time code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpDigits))
	if err != nil {
		return "", fmt.Errorf("failed to generate one-time code: %w", err)
	}

	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashOTP hashes a one-time code for storage. The plaintext only ever
// travels inside the delivery email.
func HashOTP(otp string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(otp), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash one-time code: %w", err)
	}

	return string(hash), nil
}

// CheckOTP compares a submitted code against the stored hash.
func CheckOTP(hash, otp string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(otp)) == nil
}
