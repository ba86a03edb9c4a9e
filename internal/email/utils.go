// Package email provides utilities for email address handling
package email

import (
	"regexp"
	"strings"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9._-]+\.[a-zA-Z]{2,}$`)

// IsValid performs basic email validation
func IsValid(email string) bool {
	if email == "" {
		return false
	}

	// Leading or trailing spaces make the address invalid
	if strings.TrimSpace(email) != email {
		return false
	}

	// RFC 5321 suggests 320 chars max
	if len(email) > 320 {
		return false
	}

	return emailRegex.MatchString(email)
}

// Normalize trims and lower-cases an address for comparison
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Equal reports whether two addresses are the same ignoring case and surrounding space
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
