package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,31}$`)

// ValidatePassword enforces NIST 800-63B style rules: a length floor, a
// length ceiling, and no character class requirements.
func ValidatePassword(password string, minLength int) error {
	if minLength == 0 {
		minLength = 12
	}

	if len(password) < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
	}
	if len(password) > 128 {
		return fmt.Errorf("password must be at most 128 characters long")
	}

	lower := strings.ToLower(password)
	commonPasswords := []string{
		"password1234", "123456789012", "qwertyuiopas",
	}
	for _, common := range commonPasswords {
		if lower == common {
			return fmt.Errorf("password is too common")
		}
	}

	if isRepeatingChar(password) {
		return fmt.Errorf("password cannot be a single repeating character")
	}

	return nil
}

// isRepeatingChar checks if the password is just the same character repeated
func isRepeatingChar(s string) bool {
	if len(s) == 0 {
		return false
	}
	runes := []rune(s)
	first := runes[0]
	for _, r := range runes[1:] {
		if r != first {
			return false
		}
	}
	return true
}

// ValidateEmail checks that the address parses as a single RFC 5322 address
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidateUsername enforces the account name format: lowercase alphanumeric
// with dots, dashes, and underscores, 3 to 32 characters.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username must be 3-32 lowercase letters, digits, dots, dashes, or underscores")
	}
	return nil
}
