package tenantauth

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return ErrMismatchedHashAndPassword.Clone().WithMetadata(map[string]any{"reason": err.Error()})
	}
	return nil
}

// RandomPasswordHash is a temporary password for accounts created without
// one, seeded users for example
func RandomPasswordHash() string {
	h, err := HashPassword(uuid.NewString())
	if err != nil {
		return RandomPasswordHash()
	}
	return h
}
