package server

import "net/http"

// Routes returns the portal's HTTP handler.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", HealthHandler)
	mux.HandleFunc("GET /healthz", HealthHandler)
	mux.HandleFunc("GET /ws", s.WebSocketHandler)

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/registro", s.handleRegister)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/temas", s.handleThemes)
	mux.HandleFunc("GET /api/verificar-login", s.handleVerifyLogin)
	mux.HandleFunc("POST /api/contato", s.handleContact)

	mux.Handle("POST /api/tema", s.requireSession(http.HandlerFunc(s.handleSelectTheme)))
	mux.Handle("POST /api/chatbot", s.requireSession(http.HandlerFunc(s.handleChatbot)))

	mux.Handle("GET /api/admin/estatisticas", s.requireAdmin(http.HandlerFunc(s.handleAdminStatistics)))
	mux.Handle("GET /api/admin/usuarios", s.requireAdmin(http.HandlerFunc(s.handleAdminUsers)))

	return mux
}
