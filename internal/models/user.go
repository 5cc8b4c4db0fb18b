// Package models holds the portal's persisted aggregate and the transient
// records exchanged between the HTTP layer and the real-time channel.
package models

import "time"

// Role is one of a small closed set. admin1 and admin2 are elevated.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin1 Role = "admin1"
	RoleAdmin2 Role = "admin2"
)

// IsAdmin reports whether the role may read administrative views.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin1 || r == RoleAdmin2
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	return r == RoleUser || r.IsAdmin()
}

// LoginEntry is one element of a user's append-only login history.
type LoginEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	OriginAddress string    `json:"originAddress"`
}

// User is owned by the Document and mutated only inside store transactions.
type User struct {
	ID                   int64        `json:"id"`
	Name                 string       `json:"name"`
	Email                string       `json:"email"`
	CredentialHash       string       `json:"credentialHash"`
	Role                 Role         `json:"role"`
	SelectedTheme        string       `json:"selectedTheme"`
	ChatbotQuestionCount int          `json:"chatbotQuestionCount"`
	LoginHistory         []LoginEntry `json:"loginHistory"`
	LastLogin            time.Time    `json:"lastLogin"`
	CreatedAt            time.Time    `json:"createdAt"`
}

// PublicUser is a User without its credential, safe to send to clients.
type PublicUser struct {
	ID                   int64        `json:"id"`
	Name                 string       `json:"name"`
	Email                string       `json:"email"`
	Role                 Role         `json:"role"`
	SelectedTheme        string       `json:"selectedTheme"`
	ChatbotQuestionCount int          `json:"chatbotQuestionCount"`
	LoginHistory         []LoginEntry `json:"loginHistory"`
	LastLogin            time.Time    `json:"lastLogin"`
	CreatedAt            time.Time    `json:"createdAt"`
}

// Public returns a copy of u stripped of the credential hash.
func (u *User) Public() PublicUser {
	history := make([]LoginEntry, len(u.LoginHistory))
	copy(history, u.LoginHistory)

	return PublicUser{
		ID:                   u.ID,
		Name:                 u.Name,
		Email:                u.Email,
		Role:                 u.Role,
		SelectedTheme:        u.SelectedTheme,
		ChatbotQuestionCount: u.ChatbotQuestionCount,
		LoginHistory:         history,
		LastLogin:            u.LastLogin,
		CreatedAt:            u.CreatedAt,
	}
}

// RecordLogin appends a history entry and moves LastLogin forward.
func (u *User) RecordLogin(at time.Time, origin string) {
	if origin == "" {
		origin = "0.0.0.0"
	}
	u.LastLogin = at
	u.LoginHistory = append(u.LoginHistory, LoginEntry{Timestamp: at, OriginAddress: origin})
}
