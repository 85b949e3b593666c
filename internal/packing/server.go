package packing

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// sessionCookieName carries the opaque identity key the ledger is keyed by
const sessionCookieName = "dd1750_session"

// Server handles HTTP requests for the packing-list workflow. It is a thin
// adapter: identity is resolved from the session cookie here and passed to
// the service explicitly.
type Server struct {
	service   *Service
	adminAuth AdminAuth
	mux       *http.ServeMux
}

// AdminAuth holds basic authentication credentials for admin routes
type AdminAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, adminAuth AdminAuth) *Server {
	return NewServerWithMux(service, adminAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, adminAuth AdminAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		adminAuth: adminAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticateAdmin checks basic auth credentials for admin routes
func (s *Server) authenticateAdmin(r *http.Request) bool {
	if s.adminAuth.Username == "" && s.adminAuth.Password == "" {
		return false // Admin routes stay closed until credentials are configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.adminAuth.Username && credentials[1] == s.adminAuth.Password
}

// requireAdmin middleware protects code-generation routes
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticateAdmin(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="DD1750 Assistant Admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// identity returns the request's session identity, minting and setting a new
// one when the cookie is absent.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/documents", s.handleUploadDocument)
	s.mux.HandleFunc("POST /api/extract", s.handleExtract)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/download", s.handleDownload)
	s.mux.HandleFunc("POST /api/codes/redeem", s.handleRedeemCode)
	s.mux.HandleFunc("POST /api/session/clear", s.handleClearSession)

	s.mux.HandleFunc("POST /api/admin/codes", s.requireAdmin(s.handleGenerateCodes))
	s.mux.HandleFunc("GET /api/admin/codes", s.requireAdmin(s.handleListCodes))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
