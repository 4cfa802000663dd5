package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashAccessCode hashes a share access code with bcrypt before it is stored.
func HashAccessCode(code string) (string, error) {
	if len(code) == 0 {
		return "", errors.New("access code is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyAccessCode compares a supplied code with the stored hash. The bcrypt
// comparison is constant-time, so verifiers learn nothing from timing.
func VerifyAccessCode(hash, code string) error {
	if hash == "" {
		return errors.New("access code hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
}
