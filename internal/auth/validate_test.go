// validate_test.go

// unit tests for ValidateEmail and ValidatePassword.
package auth

import (
	"strings"
	"testing"
)

// --- ValidateEmail ---

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty string", "", "No email provided"},
		{"too short", "a@b", "Email too short!"},
		{"too long", strings.Repeat("a", 250) + "@test.com", "Email too long!"},
		{"missing at sign", "notanemail", "Invalid email format"},
		{"valid address", "user@example.com", ""},
		{"display name form", "User <user@example.com>", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateEmail(tc.input)
			if got != tc.wantMsg {
				t.Errorf("ValidateEmail(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
			}
		})
	}
}

// --- ValidatePassword ---

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"empty string", "", "No password provided"},
		{"single char", "x", ""},
		{"exactly maximum", strings.Repeat("a", 72), ""},
		{"one over maximum", strings.Repeat("a", 73), "Password too long!"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidatePassword(tc.input)
			if got != tc.wantMsg {
				t.Errorf("ValidatePassword(%q): expected %q, got %q", tc.input, tc.wantMsg, got)
			}
		})
	}
}
