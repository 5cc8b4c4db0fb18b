package models

import "time"

// DefaultThemeID is the theme assigned at registration and the chatbot's
// fallback table.
const DefaultThemeID = "default"

// Theme is one entry of the theme catalog.
type Theme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ChatbotTable holds the canned answers for one theme, keyed by normalized
// question.
type ChatbotTable struct {
	Questions    map[string]string `json:"questions"`
	LimitReached string            `json:"limitReached"`
	NoAnswer     string            `json:"noAnswer"`
}

// Chatbot maps theme id to its answer table.
type Chatbot struct {
	Responses map[string]ChatbotTable `json:"responses"`
}

// Statistics are process-durable counters. ActiveUsers never goes below zero.
type Statistics struct {
	TotalAccesses  int64 `json:"totalAccesses"`
	ActiveUsers    int64 `json:"activeUsers"`
	ChatMessages   int64 `json:"chatMessages"`
	ChatbotQueries int64 `json:"chatbotQueries"`
}

// Document is the whole persisted aggregate. Every mutation is a
// read-modify-write of the full Document.
type Document struct {
	Revision   int64      `json:"revision"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Users      []User     `json:"users"`
	Themes     []Theme    `json:"themes"`
	Chatbot    Chatbot    `json:"chatbot"`
	Statistics Statistics `json:"statistics"`
}

// UserByEmail returns a pointer into d.Users, or nil.
func (d *Document) UserByEmail(email string) *User {
	for i := range d.Users {
		if d.Users[i].Email == email {
			return &d.Users[i]
		}
	}
	return nil
}

// UserByID returns a pointer into d.Users, or nil.
func (d *Document) UserByID(id int64) *User {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return &d.Users[i]
		}
	}
	return nil
}

// NextUserID is one greater than the current maximum id, or 1 when empty.
func (d *Document) NextUserID() int64 {
	var maxID int64
	for i := range d.Users {
		if d.Users[i].ID > maxID {
			maxID = d.Users[i].ID
		}
	}
	return maxID + 1
}

// Theme looks up a catalog entry by id.
func (d *Document) Theme(id string) (Theme, bool) {
	for _, t := range d.Themes {
		if t.ID == id {
			return t, true
		}
	}
	return Theme{}, false
}

// Normalize replaces nil collections so a freshly decoded Document can be
// mutated without nil checks.
func (d *Document) Normalize() {
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.Themes == nil {
		d.Themes = []Theme{}
	}
	if d.Chatbot.Responses == nil {
		d.Chatbot.Responses = map[string]ChatbotTable{}
	}
}
