package models

import "time"

// Session binds a browser context to an authenticated identity. It is shared
// by token between the HTTP layer and the real-time channel.
type Session struct {
	Token         string
	UserID        int64
	DisplayName   string
	Role          Role
	SelectedTheme string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the session is past its deadline at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Presence is the public metadata of one active connection.
type Presence struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
	Theme  string `json:"theme"`
	Role   Role   `json:"role"`
}

// ChatMessage is built by the server from the sender's registry entry and
// lives only for the duration of a broadcast.
type ChatMessage struct {
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
