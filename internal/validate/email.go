package validate

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidEmail is returned when a contact address fails format checks.
var ErrInvalidEmail = errors.New("invalid email format")

// Deliverability is the mail server's problem; this pattern only rejects
// obvious garbage before a claim contact is stored.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email normalizes a contact address (trimmed, lowercased) and checks it
// against the format and the RFC 5321 length limits.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmpty
	}
	if len(email) > 254 {
		return "", ErrStringTooLong
	}
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	// The pattern guarantees exactly one "@".
	at := strings.LastIndex(email, "@")
	local, domain := email[:at], email[at+1:]
	if len(local) > 64 || len(domain) > 255 {
		return "", ErrStringTooLong
	}
	if !strings.Contains(domain, ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
