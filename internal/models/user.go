package models

import (
	"strings"
	"time"
)

// UserRecord is a registered account, keyed by lower-cased email.
type UserRecord struct {
	UserID       string            `json:"user_id"`
	UserType     UserType          `json:"user_type"`
	FullName     string            `json:"full_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
}

// NormalizeEmail returns the key form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SessionMarker binds a WhatsApp identity to a verified account.
type SessionMarker struct {
	Email      string    `json:"email"`
	UserID     string    `json:"user_id"`
	VerifiedAt time.Time `json:"verified_at"`
}

// IntentMarker remembers which money intent is waiting on verification or a user type.
// Awaiting is true while the user still owes an answer; a money intent parked
// behind a registration in progress is kept with Awaiting false.
type IntentMarker struct {
	Intent    Intent    `json:"intent"`
	Trigger   string    `json:"trigger,omitempty"`
	Awaiting  bool      `json:"awaiting"`
	CreatedAt time.Time `json:"created_at"`
}
