package service

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLength = 4
	minPasswordLength = 6
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword only accepts bcrypt hashes. Legacy plain-text rows are
// upgraded by UpgradeLegacyPasswords before anyone can log in against them.
func VerifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !IsPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func IsPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
