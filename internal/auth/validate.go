// validate.go

// Local input checks run before any provider call.
package auth

import (
	netmail "net/mail"
)

// maxPasswordBytes is the provider's bcrypt input limit; longer passwords are truncated server side.
const maxPasswordBytes = 72

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	emailLen := len(email)
	if emailLen < 5 {
		return "Email too short!"
	}
	if emailLen > 254 {
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// ValidatePassword returns an error message or empty string. Strength rules belong to the provider.
func ValidatePassword(password string) string {
	if password == "" {
		return "No password provided"
	}
	if len(password) > maxPasswordBytes {
		return "Password too long!"
	}
	return ""
}
