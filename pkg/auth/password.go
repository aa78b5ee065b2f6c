package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultBcryptCost = 12
	MinPasswordLen    = 6
	MaxPasswordLen    = 72 // bcrypt ignores anything past 72 bytes
)

// PasswordRequirements is shown to users whenever a password is rejected.
const PasswordRequirements = "min 6 chars, uppercase, lowercase, number, special"

// PasswordValidationError holds the unmet password rules
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "password requirements: " + PasswordRequirements
}

// HashPassword hashes password with bcrypt at the given cost.
// A cost outside bcrypt's accepted range falls back to DefaultBcryptCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CheckPassword reports whether password satisfies every strength rule.
func CheckPassword(password string) bool {
	return ValidatePassword(password) == nil
}

// ValidatePassword enforces the password strength rules: at least
// MinPasswordLen characters with a digit, an uppercase letter, a lowercase
// letter and a character that is neither letter nor digit.
func ValidatePassword(password string) error {
	errors := make([]string, 0)

	length := utf8.RuneCountInString(password)
	if length < MinPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errors = append(errors, fmt.Sprintf("must be at most %d bytes", MaxPasswordLen))
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, "must contain at least one uppercase letter")
	}
	if !hasLower {
		errors = append(errors, "must contain at least one lowercase letter")
	}
	if !hasDigit {
		errors = append(errors, "must contain at least one digit")
	}
	if !hasSpecial {
		errors = append(errors, "must contain at least one special character")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}

// GenerateRecoveryCode returns a random code in the form "NNNN-NNNN".
func GenerateRecoveryCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate recovery code: %w", err)
	}
	first := binary.BigEndian.Uint32(buf[:4]) % 10000
	second := binary.BigEndian.Uint32(buf[4:]) % 10000
	return fmt.Sprintf("%04d-%04d", first, second), nil
}

// SecretsEqual compares a stored secret with user input in constant time.
// An empty stored secret never matches.
func SecretsEqual(stored, given string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
