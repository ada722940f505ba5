package domain

import "time"

// RoleUser is the role every account is created with.
const RoleUser = "user"

type User struct {
	ID        string
	Email     string // stored lowercase
	Username  string // stored lowercase
	Name      string
	Roles     []string
	CreatedAt time.Time
}

// HasRole reports whether the user carries the given role name.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Credential is the one-to-one password record of a user. The hash is
// replaced wholesale on password reset; no history is kept.
type Credential struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}
