package server

import (
	"net/http"
	"time"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/session"
)

func (s *Server) sessionFromRequest(r *http.Request) (models.Session, error) {
	cookie, err := r.Cookie(s.cfg.Session.CookieName)
	if err != nil {
		return models.Session{}, common.ErrUnauthorized
	}
	return s.gate.Resolve(cookie.Value)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Session.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireSession answers 401 unless the request carries a live session,
// which it then stores in the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessionFromRequest(r)
		if err != nil {
			s.writeError(w, r, common.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

// requireAdmin answers 403 unless the request carries a live session with
// an elevated role.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessionFromRequest(r)
		if err != nil || !sess.Role.IsAdmin() {
			s.writeError(w, r, common.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}
