// Package identity manages the optional user identity attached to a voice
// session: who the user is, where that is remembered between runs, and how
// an email address maps to a display name.
package identity

import (
	"errors"
	"strings"
)

// Sentinel errors for the identity package.
var (
	// ErrNotFound indicates no display name is known for an email.
	ErrNotFound = errors.New("identity: not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("identity: store closed")
)

// Identity is the optional (email, name) pair sent to the backend.
type Identity struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

// HasEmail reports whether an email is set. An identity without an email
// is never sent.
func (i Identity) HasEmail() bool {
	return i.Email != ""
}

// DisplayName returns the name, or the email when no name is known.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Email
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Domain returns the part of a normalized email after the last "@", or ""
// when there is none.
func Domain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
