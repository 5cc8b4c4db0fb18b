package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/session"
)

type loginRequest struct {
	Email      string `json:"email"`
	Credential string `json:"credential"`
}

type registerRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Credential string `json:"credential"`
}

type themeRequest struct {
	ThemeID string `json:"themeId"`
}

type chatbotRequest struct {
	Question string `json:"question"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type userResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

type themeResponse struct {
	Message string `json:"message"`
	Theme   string `json:"theme"`
}

type verifyResponse struct {
	LoggedIn      bool               `json:"loggedIn"`
	User          *models.PublicUser `json:"user,omitempty"`
	SelectedTheme string             `json:"selectedTheme,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Portal server is running!")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	grant, err := s.gate.Authenticate(r.Context(), req.Email, req.Credential, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, grant.Cookie, grant.Session.ExpiresAt)
	writeJSON(w, http.StatusOK, userResponse{Message: "Login successful", User: grant.User})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	grant, err := s.gate.Register(r.Context(), req.Name, req.Email, req.Credential, clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.setSessionCookie(w, grant.Cookie, grant.Session.ExpiresAt)
	writeJSON(w, http.StatusCreated, userResponse{Message: "User registered successfully", User: grant.User})
}

// handleLogout always succeeds for the client; a failed counter update is
// only logged.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess, err := s.sessionFromRequest(r); err == nil {
		if err := s.gate.Destroy(r.Context(), sess.Token); err != nil {
			s.logger.Error(r.Context(), "logout: failed to update statistics", "user_id", sess.UserID, "error", err)
		}
	}

	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	var themes []models.Theme
	err := s.store.View(r.Context(), func(doc *models.Document) error {
		themes = append([]models.Theme{}, doc.Themes...)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, themes)
}

func (s *Server) handleSelectTheme(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	var req themeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	theme, err := s.gate.UpdateTheme(r.Context(), sess.Token, req.ThemeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, themeResponse{Message: "Theme updated successfully", Theme: theme.ID})
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	var req chatbotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.writeError(w, r, fmt.Errorf("%w: question must not be empty", common.ErrValidation))
		return
	}

	answer, err := s.chatbot.Ask(r.Context(), sess.UserID, req.Question)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleAdminStatistics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.stats.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	var users []models.PublicUser
	err := s.store.View(r.Context(), func(doc *models.Document) error {
		users = make([]models.PublicUser, 0, len(doc.Users))
		for i := range doc.Users {
			users = append(users, doc.Users[i].Public())
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: "User not authenticated."})
		return
	}

	sess, user, err := s.gate.Verify(r.Context(), sess.Token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{LoggedIn: true, User: &user, SelectedTheme: sess.SelectedTheme})
	case errors.Is(err, common.ErrUnauthorized):
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Error: "Invalid session."})
	default:
		s.writeError(w, r, err)
	}
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Thanks for reaching out, %s! Your message was received.", req.Name),
	})
}

// WebSocketHandler authorizes the request against its session before
// upgrading; unauthenticated requests are refused with 401 and never reach
// the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err == nil {
		sess, _, err = s.gate.Verify(r.Context(), sess.Token)
	}
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			err = fmt.Errorf("%w: %w", common.ErrConnectionRefused, err)
		}
		s.logger.Info(r.Context(), "websocket connection refused", "addr", r.RemoteAddr, "reason", err)
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, sess, r.RemoteAddr, s.cfg, s.logger)
	if !s.hub.Register(client) {
		client.setState(StateRejected)
		client.reject(websocket.CloseGoingAway, "server shutting down")
	}
}
