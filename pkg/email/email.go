package email

import (
	"net/mail"
	"strings"
	"unicode"
)

// DeriveNameFromEmail splits the local part of an address into a first and
// last name, falling back to "User" for missing parts.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "User", "User"
	}

	first := capitalize(parts[0])
	last := "User"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

// FullName is the display name sent on registration.
func FullName(email string) string {
	first, last := DeriveNameFromEmail(email)
	return first + " " + last
}

// Normalize lowercases and trims an address. Directory keys use it so the same
// mailbox always maps to the same subject.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValid reports whether the address parses as a bare mailbox.
func IsValid(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == strings.TrimSpace(email)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
