package domain

import (
	"strings"
	"time"
)

type IdentityStatus string

const (
	StatusActive    IdentityStatus = "active"
	StatusSuspended IdentityStatus = "suspended"
)

// Identity is an admin account. Email is unique and compared
// case-insensitively; it is always stored normalised.
type Identity struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string // argon2id PHC string
	Role         Role
	Status       IdentityStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (i *Identity) Active() bool { return i.Status == StatusActive }

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
