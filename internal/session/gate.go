// Package session implements the Session Gate: credential checks, the live
// session registry and the signed cookie that carries a session between
// HTTP requests and the real-time channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/stats"
	"github.com/Tyrowin/portalchat/internal/store"
)

const tokenBytes = 32

// Grant is the result of a successful login or registration.
type Grant struct {
	Session models.Session
	User    models.PublicUser
	Cookie  string
}

// Gate owns authentication and the session lifecycle.
type Gate struct {
	store    *store.Store
	sessions *Registry
	secret   []byte
	cost     int
	logger   logging.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewGate(st *store.Store, sessions *Registry, cfg config.SessionConfig, logger logging.Logger) *Gate {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	cost := cfg.HashCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Gate{
		store:    st,
		sessions: sessions,
		secret:   []byte(cfg.Secret),
		cost:     cost,
		logger:   logger.With("module", "session"),
		now:      time.Now,
	}
}

// Sessions exposes the registry so the hub can subscribe to it.
func (g *Gate) Sessions() *Registry {
	return g.sessions
}

// HashCredential returns a bcrypt hash of credential at the gate's cost.
func (g *Gate) HashCredential(credential string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), g.cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks email and credential, records the login and creates a
// session. Unknown email and wrong credential both yield
// common.ErrAuthenticationFailed.
func (g *Gate) Authenticate(ctx context.Context, email, credential, origin string) (*Grant, error) {
	var (
		userID int64
		hash   string
	)
	err := g.store.View(ctx, func(doc *models.Document) error {
		if u := doc.UserByEmail(email); u != nil {
			userID, hash = u.ID, u.CredentialHash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if hash == "" {
		g.compareDummy(credential)
		return nil, common.ErrAuthenticationFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		return nil, common.ErrAuthenticationFailed
	}

	token, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	var user models.User
	err = g.store.Update(ctx, func(doc *models.Document) error {
		u := doc.UserByID(userID)
		if u == nil || u.CredentialHash != hash {
			return common.ErrAuthenticationFailed
		}

		u.RecordLogin(g.now().UTC(), origin)
		if err := stats.Increment(&doc.Statistics, stats.TotalAccesses, 1); err != nil {
			return err
		}
		if err := stats.Increment(&doc.Statistics, stats.ActiveUsers, 1); err != nil {
			return err
		}
		user = *u
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info(ctx, "user logged in", "user_id", user.ID)
	return g.grant(token, &user)
}

// Register creates a user with the default role and theme, then logs them in.
func (g *Gate) Register(ctx context.Context, name, email, credential, origin string) (*Grant, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || credential == "" {
		return nil, fmt.Errorf("%w: name, email and credential are required", common.ErrValidation)
	}

	hash, err := g.HashCredential(credential)
	if err != nil {
		return nil, err
	}

	token, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	var user models.User
	err = g.store.Update(ctx, func(doc *models.Document) error {
		if doc.UserByEmail(email) != nil {
			return common.ErrDuplicateEmail
		}

		now := g.now().UTC()
		u := models.User{
			ID:             doc.NextUserID(),
			Name:           name,
			Email:          email,
			CredentialHash: hash,
			Role:           models.RoleUser,
			SelectedTheme:  models.DefaultThemeID,
			CreatedAt:      now,
		}
		u.RecordLogin(now, origin)

		if err := stats.Increment(&doc.Statistics, stats.TotalAccesses, 1); err != nil {
			return err
		}
		if err := stats.Increment(&doc.Statistics, stats.ActiveUsers, 1); err != nil {
			return err
		}

		doc.Users = append(doc.Users, u)
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info(ctx, "user registered", "user_id", user.ID)
	return g.grant(token, &user)
}

// Destroy ends the session for token and decrements the active-user counter.
// The session is gone even when the counter update fails.
func (g *Gate) Destroy(ctx context.Context, token string) error {
	if !g.sessions.Invalidate(token) {
		return nil
	}

	return g.store.Update(ctx, func(doc *models.Document) error {
		return stats.DecrementFloored(&doc.Statistics, stats.ActiveUsers, 1)
	})
}

// Resolve maps a signed cookie value to its live session.
func (g *Gate) Resolve(cookie string) (models.Session, error) {
	if cookie == "" {
		return models.Session{}, common.ErrUnauthorized
	}
	sid, err := ParseToken(cookie, g.secret)
	if err != nil {
		return models.Session{}, err
	}
	s, ok := g.sessions.Get(sid)
	if !ok {
		return models.Session{}, common.ErrUnauthorized
	}
	return s, nil
}

// Verify re-reads the user behind the session for token. If the user no
// longer exists the session is invalidated.
func (g *Gate) Verify(ctx context.Context, token string) (models.Session, models.PublicUser, error) {
	s, ok := g.sessions.Get(token)
	if !ok {
		return models.Session{}, models.PublicUser{}, common.ErrUnauthorized
	}

	var (
		user  models.PublicUser
		found bool
	)
	err := g.store.View(ctx, func(doc *models.Document) error {
		if u := doc.UserByID(s.UserID); u != nil {
			user, found = u.Public(), true
		}
		return nil
	})
	if err != nil {
		return models.Session{}, models.PublicUser{}, err
	}

	if !found {
		g.logger.Warn(ctx, "session references missing user", "user_id", s.UserID)
		g.sessions.Invalidate(token)
		return models.Session{}, models.PublicUser{}, common.ErrUnauthorized
	}
	return s, user, nil
}

// UpdateTheme persists themeID as the session user's theme and updates the
// live session.
func (g *Gate) UpdateTheme(ctx context.Context, token, themeID string) (models.Theme, error) {
	s, ok := g.sessions.Get(token)
	if !ok {
		return models.Theme{}, common.ErrUnauthorized
	}

	var theme models.Theme
	err := g.store.Update(ctx, func(doc *models.Document) error {
		t, ok := doc.Theme(themeID)
		if !ok {
			return common.ErrInvalidTheme
		}
		u := doc.UserByID(s.UserID)
		if u == nil {
			return common.ErrNotFound
		}
		u.SelectedTheme = t.ID
		theme = t
		return nil
	})
	if errors.Is(err, common.ErrNotFound) {
		g.sessions.Invalidate(token)
		return models.Theme{}, common.ErrUnauthorized
	}
	if err != nil {
		return models.Theme{}, err
	}

	g.sessions.UpdateTheme(token, theme.ID)
	return theme, nil
}

// Provision creates a user with role, or updates name, credential and role
// of an existing user with the same email. It does not create a session.
func (g *Gate) Provision(ctx context.Context, name, email, credential string, role models.Role) (models.PublicUser, error) {
	if !role.Valid() {
		return models.PublicUser{}, fmt.Errorf("%w: unknown role %q", common.ErrValidation, role)
	}
	email = strings.TrimSpace(email)
	if email == "" || credential == "" {
		return models.PublicUser{}, fmt.Errorf("%w: email and credential are required", common.ErrValidation)
	}

	hash, err := g.HashCredential(credential)
	if err != nil {
		return models.PublicUser{}, err
	}

	var out models.PublicUser
	err = g.store.Update(ctx, func(doc *models.Document) error {
		if u := doc.UserByEmail(email); u != nil {
			if name != "" {
				u.Name = name
			}
			u.CredentialHash = hash
			u.Role = role
			out = u.Public()
			return nil
		}

		u := models.User{
			ID:             doc.NextUserID(),
			Name:           name,
			Email:          email,
			CredentialHash: hash,
			Role:           role,
			SelectedTheme:  models.DefaultThemeID,
			CreatedAt:      g.now().UTC(),
		}
		doc.Users = append(doc.Users, u)
		out = u.Public()
		return nil
	})
	return out, err
}

// Cookie signs the session token for s.
func (g *Gate) Cookie(s models.Session) (string, error) {
	return SignToken(s.Token, g.secret, s.ExpiresAt)
}

func (g *Gate) grant(token string, u *models.User) (*Grant, error) {
	s := g.sessions.Create(models.Session{
		Token:         token,
		UserID:        u.ID,
		DisplayName:   u.Name,
		Role:          u.Role,
		SelectedTheme: u.SelectedTheme,
	})

	cookie, err := g.Cookie(s)
	if err != nil {
		g.sessions.Invalidate(token)
		return nil, fmt.Errorf("sign session: %w", err)
	}

	return &Grant{Session: s, User: u.Public(), Cookie: cookie}, nil
}

// compareDummy spends roughly the same time as a real comparison so that
// unknown emails cannot be told apart by latency.
func (g *Gate) compareDummy(credential string) {
	g.dummyOnce.Do(func() {
		g.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("portal-dummy-credential"), g.cost)
	})
	_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(credential))
}
