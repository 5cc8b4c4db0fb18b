package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextUserID(t *testing.T) {
	d := &Document{}
	assert.Equal(t, int64(1), d.NextUserID())

	d.Users = []User{{ID: 3}, {ID: 9}, {ID: 4}}
	assert.Equal(t, int64(10), d.NextUserID())
}

func TestUserLookupReturnsPointerIntoDocument(t *testing.T) {
	d := &Document{Users: []User{{ID: 1, Email: "a@x"}, {ID: 2, Email: "b@x"}}}

	u := d.UserByEmail("b@x")
	require.NotNil(t, u)
	u.Name = "changed"
	assert.Equal(t, "changed", d.Users[1].Name)

	assert.Nil(t, d.UserByEmail("B@x"), "email match is exact")
	assert.Nil(t, d.UserByID(42))
	assert.Equal(t, "a@x", d.UserByID(1).Email)
}

func TestPublicUserOmitsCredential(t *testing.T) {
	u := User{ID: 1, Email: "a@x", CredentialHash: "secret-hash", LoginHistory: []LoginEntry{{OriginAddress: "1.2.3.4"}}}

	raw, err := json.Marshal(u.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-hash")
	assert.NotContains(t, string(raw), "credential")

	pub := u.Public()
	pub.LoginHistory[0].OriginAddress = "mutated"
	assert.Equal(t, "1.2.3.4", u.LoginHistory[0].OriginAddress)
}

func TestRecordLoginAppends(t *testing.T) {
	u := User{}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	u.RecordLogin(at, "")
	u.RecordLogin(at.Add(time.Minute), "10.0.0.1")

	require.Len(t, u.LoginHistory, 2)
	assert.Equal(t, "0.0.0.0", u.LoginHistory[0].OriginAddress)
	assert.Equal(t, at.Add(time.Minute), u.LastLogin)
}

func TestRoles(t *testing.T) {
	assert.True(t, RoleAdmin1.IsAdmin())
	assert.True(t, RoleAdmin2.IsAdmin())
	assert.False(t, RoleUser.IsAdmin())
	assert.True(t, RoleUser.Valid())
	assert.False(t, Role("root").Valid())
}

func TestDefaultDocumentHasDefaultTheme(t *testing.T) {
	d := DefaultDocument()
	_, ok := d.Theme(DefaultThemeID)
	assert.True(t, ok)
	_, ok = d.Chatbot.Responses[DefaultThemeID]
	assert.True(t, ok)
	assert.Empty(t, d.Users)
}

func TestNormalizeFillsNilCollections(t *testing.T) {
	var d Document
	d.Normalize()
	assert.NotNil(t, d.Users)
	assert.NotNil(t, d.Themes)
	assert.NotNil(t, d.Chatbot.Responses)
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := Session{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Minute)))
	assert.False(t, (&Session{}).Expired(now))
}
