package models

import (
	"time"
)

// Organization is the tenant boundary. Devices and commands belong to exactly
// one organization, identified on the wire by its shared API token.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIToken  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a human operator bound to one organization. Passwords are stored
// as bcrypt hashes and never leave the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	OrgID        string    `json:"org_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is the response body for a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}
