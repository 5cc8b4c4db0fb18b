package session

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/portalchat/internal/models"
)

// Listener is told about sessions that end or change. Calls happen outside
// the registry lock and must not block for long.
type Listener interface {
	SessionInvalidated(token string)
	SessionUpdated(s models.Session)
}

// Registry holds live sessions in memory, keyed by token.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	listeners []Listener

	ttl time.Duration
	now func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]models.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Subscribe registers l for invalidation and update events.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Create stores s, stamping CreatedAt and ExpiresAt, and returns the stored copy.
func (r *Registry) Create(s models.Session) models.Session {
	now := r.now()
	s.CreatedAt = now
	s.ExpiresAt = now.Add(r.ttl)

	r.mu.Lock()
	r.sessions[s.Token] = s
	r.mu.Unlock()
	return s
}

// Get returns a copy of the live session for token. An expired session is
// removed and reported as absent.
func (r *Registry) Get(token string) (models.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return models.Session{}, false
	}
	if s.Expired(r.now()) {
		r.Invalidate(token)
		return models.Session{}, false
	}
	return s, true
}

// Alive reports whether token names an unexpired session. Unlike Get it
// never removes anything or notifies listeners.
func (r *Registry) Alive(token string) bool {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()
	return ok && !s.Expired(r.now())
}

// Invalidate removes token and notifies listeners. It reports whether a
// session was removed.
func (r *Registry) Invalidate(token string) bool {
	r.mu.Lock()
	_, ok := r.sessions[token]
	delete(r.sessions, token)
	listeners := r.listeners
	r.mu.Unlock()

	if !ok {
		return false
	}
	for _, l := range listeners {
		l.SessionInvalidated(token)
	}
	return true
}

// UpdateTheme changes the theme of a live session and notifies listeners.
func (r *Registry) UpdateTheme(token, themeID string) (models.Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		s.SelectedTheme = themeID
		r.sessions[token] = s
	}
	listeners := r.listeners
	r.mu.Unlock()

	if !ok {
		return models.Session{}, false
	}
	for _, l := range listeners {
		l.SessionUpdated(s)
	}
	return s, true
}

// Sweep removes every expired session and returns how many were dropped.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for token, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, token)
			delete(r.sessions, token)
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	for _, token := range expired {
		for _, l := range listeners {
			l.SessionInvalidated(token)
		}
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len reports the number of stored sessions, expired or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
