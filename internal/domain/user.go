package domain

import "time"

// UserStatus represents lifecycle states for an account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the credential record backing the login flow. Everything beyond
// credentials and granted scopes belongs to the surrounding application.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Scopes       []string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity projects the user into the subject/scopes shape tokens are
// minted for.
func (u *User) Identity() Identity {
	return Identity{Subject: u.ID, Scopes: u.Scopes}
}
