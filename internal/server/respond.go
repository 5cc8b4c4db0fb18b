package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Tyrowin/portalchat/internal/common"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps an error to a status code and a message that is safe to
// show to clients.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrDuplicateEmail):
		return http.StatusBadRequest, "Email already registered."
	case errors.Is(err, common.ErrInvalidTheme):
		return http.StatusBadRequest, "Invalid theme."
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrAuthenticationFailed):
		return http.StatusUnauthorized, "Invalid credentials."
	case errors.Is(err, common.ErrConnectionRefused):
		return http.StatusUnauthorized, "Connection refused. Please log in to continue."
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized. Please log in to continue."
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, "Access denied. Insufficient permissions."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", common.ErrValidation)
	}
	return nil
}

// clientIP returns the host part of the peer address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
