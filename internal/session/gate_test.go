package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
	"github.com/Tyrowin/portalchat/internal/store/memstore"
)

func newTestGate(t *testing.T) (*Gate, *store.Store, *memstore.Backend) {
	t.Helper()
	backend := memstore.New()
	st, err := store.Open(context.Background(), backend, nil, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.NewConfig().Session
	cfg.HashCost = 4
	return NewGate(st, NewRegistry(time.Hour), cfg, nil), st, backend
}

func document(t *testing.T, st *store.Store) models.Document {
	t.Helper()
	var out models.Document
	require.NoError(t, st.View(context.Background(), func(doc *models.Document) error {
		out = *doc
		return nil
	}))
	return out
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)

	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), grant.User.ID)
	assert.Equal(t, models.RoleUser, grant.User.Role)
	assert.Equal(t, models.DefaultThemeID, grant.User.SelectedTheme)
	assert.Zero(t, grant.User.ChatbotQuestionCount)
	require.Len(t, grant.User.LoginHistory, 1)
	assert.Equal(t, "10.0.0.1", grant.User.LoginHistory[0].OriginAddress)
	assert.NotEmpty(t, grant.Cookie)

	sid, err := ParseToken(grant.Cookie, g.secret)
	require.NoError(t, err)
	assert.Equal(t, grant.Session.Token, sid)

	second, err := g.Register(ctx, "Bia", "bia@example.com", "pw", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.User.ID)

	doc := document(t, st)
	assert.Equal(t, int64(2), doc.Statistics.TotalAccesses)
	assert.Equal(t, int64(2), doc.Statistics.ActiveUsers)
	assert.NotEqual(t, "pw", doc.Users[0].CredentialHash)
}

func TestRegister_DuplicateEmailCreatesNothing(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)

	_, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)
	before := document(t, st)

	_, err = g.Register(ctx, "Other", "ana@example.com", "pw2", "")
	assert.ErrorIs(t, err, common.ErrDuplicateEmail)
	assert.ErrorIs(t, err, common.ErrValidation)

	after := document(t, st)
	assert.Len(t, after.Users, len(before.Users))
	assert.Equal(t, before.Statistics, after.Statistics)
	assert.Equal(t, 1, g.sessions.Len())
}

func TestRegister_RequiresFields(t *testing.T) {
	g, _, _ := newTestGate(t)
	_, err := g.Register(context.Background(), " ", "a@b.c", "pw", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	_, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	grant, err := g.Authenticate(ctx, "ana@example.com", "pw", "192.168.0.9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), grant.Session.UserID)
	assert.Equal(t, "Ana", grant.Session.DisplayName)
	require.Len(t, grant.User.LoginHistory, 2)
	assert.Equal(t, "192.168.0.9", grant.User.LoginHistory[1].OriginAddress)

	doc := document(t, st)
	assert.Len(t, doc.Users[0].LoginHistory, 2)
	assert.Equal(t, int64(2), doc.Statistics.TotalAccesses)
	assert.Equal(t, int64(2), doc.Statistics.ActiveUsers)
}

func TestAuthenticate_FailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	_, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)
	before := document(t, st)

	_, wrongCred := g.Authenticate(ctx, "ana@example.com", "nope", "")
	_, unknown := g.Authenticate(ctx, "who@example.com", "pw", "")
	_, wrongCase := g.Authenticate(ctx, "ANA@example.com", "pw", "")

	for _, err := range []error{wrongCred, unknown, wrongCase} {
		assert.ErrorIs(t, err, common.ErrAuthenticationFailed)
		assert.Equal(t, common.ErrAuthenticationFailed.Error(), err.Error())
	}
	assert.Equal(t, before.Statistics, document(t, st).Statistics)
}

func TestAuthenticate_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	g, _, backend := newTestGate(t)
	_, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	backend.FailWrites(true)
	_, err = g.Authenticate(ctx, "ana@example.com", "pw", "")
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Equal(t, 1, g.sessions.Len(), "no session without a recorded login")
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	require.NoError(t, g.Destroy(ctx, grant.Session.Token))
	require.NoError(t, g.Destroy(ctx, grant.Session.Token))
	require.NoError(t, g.Destroy(ctx, "never-existed"))

	assert.Equal(t, int64(0), document(t, st).Statistics.ActiveUsers)
	_, err = g.Resolve(grant.Cookie)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestDestroy_StorageFailureStillInvalidates(t *testing.T) {
	ctx := context.Background()
	g, _, backend := newTestGate(t)
	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	backend.FailWrites(true)
	err = g.Destroy(ctx, grant.Session.Token)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
	assert.Equal(t, 0, g.sessions.Len())
}

func TestActiveUsersFloorAcrossLogouts(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)

	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, func(doc *models.Document) error {
		doc.Statistics.ActiveUsers = 0
		return nil
	}))

	require.NoError(t, g.Destroy(ctx, grant.Session.Token))
	assert.Equal(t, int64(0), document(t, st).Statistics.ActiveUsers)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	s, u, err := g.Verify(ctx, grant.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, grant.Session.Token, s.Token)
	assert.Equal(t, "ana@example.com", u.Email)

	require.NoError(t, st.Update(ctx, func(doc *models.Document) error {
		doc.Users = doc.Users[:0]
		return nil
	}))

	_, _, err = g.Verify(ctx, grant.Session.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Equal(t, 0, g.sessions.Len(), "session of a deleted user is invalidated")
}

func TestUpdateTheme(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	grant, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)

	l := &recordingListener{}
	g.Sessions().Subscribe(l)

	theme, err := g.UpdateTheme(ctx, grant.Session.Token, "music")
	require.NoError(t, err)
	assert.Equal(t, "music", theme.ID)
	assert.Equal(t, "music", document(t, st).Users[0].SelectedTheme)
	require.Len(t, l.updated, 1)

	_, err = g.UpdateTheme(ctx, grant.Session.Token, "nope")
	assert.ErrorIs(t, err, common.ErrInvalidTheme)

	_, err = g.UpdateTheme(ctx, "missing", "music")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	g, _, _ := newTestGate(t)

	admin, err := g.Provision(ctx, "Root", "root@example.com", "pw", models.RoleAdmin1)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin1, admin.Role)

	again, err := g.Provision(ctx, "", "root@example.com", "pw2", models.RoleAdmin2)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
	assert.Equal(t, "Root", again.Name)

	_, err = g.Authenticate(ctx, "root@example.com", "pw2", "")
	assert.NoError(t, err)

	_, err = g.Provision(ctx, "x", "x@example.com", "pw", "superuser")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestConcurrentLoginsAndChatCountersAreNotLost(t *testing.T) {
	ctx := context.Background()
	g, st, _ := newTestGate(t)
	_, err := g.Register(ctx, "Ana", "ana@example.com", "pw", "")
	require.NoError(t, err)
	agg := stats.NewAggregator(st, nil)

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := g.Authenticate(ctx, "ana@example.com", "pw", "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			agg.RecordChatMessage(ctx)
		}()
	}
	wg.Wait()

	doc := document(t, st)
	assert.Equal(t, int64(n+1), doc.Statistics.TotalAccesses)
	assert.Equal(t, int64(n), doc.Statistics.ChatMessages)
	assert.Len(t, doc.Users[0].LoginHistory, n+1)
}

func TestContextHelpers(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithSession(context.Background(), models.Session{Token: "t"})
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", s.Token)
}
