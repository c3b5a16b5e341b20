// Package auth implements user accounts: registration, login, JWT issuance
// and verification, and the request middleware that resolves the caller's
// identity.
package auth

import "time"

// User is an account row from auth.db. PasswordHash never leaves the
// package; API responses serialize through PublicUser.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Name         string
	IsActive     bool
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// PublicUser is the API-safe projection of a User.
type PublicUser struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Public returns the API-safe projection.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

// Identity is the resolved caller of a request: either an authenticated
// user or the anonymous guest.
type Identity struct {
	UserID int64
	Email  string
	Guest  bool
}

// SessionKey returns the key under which this caller's trading session is
// stored. All anonymous callers share the single guest session, matching
// a browser's per-device local storage.
func (id Identity) SessionKey() string {
	if id.Guest {
		return "guest"
	}
	return userKey(id.UserID)
}
