package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/devicehub-server/devicehub-server/internal/auth"
	"github.com/devicehub-server/devicehub-server/internal/config"
	"github.com/devicehub-server/devicehub-server/internal/session"
	"github.com/devicehub-server/devicehub-server/internal/storage"
	"github.com/devicehub-server/devicehub-server/pkg/crypto"
)

// RESTServer represents the REST API server
type RESTServer struct {
	config   *config.Config
	store    storage.Store
	registry *session.Registry
	auth     *auth.JWTManager
	credKey  []byte
	router   chi.Router
	server   *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, registry *session.Registry) (*RESTServer, error) {
	var credKey []byte
	if cfg.Cloud.CredentialKey != "" {
		key, err := crypto.ParseKey(cfg.Cloud.CredentialKey)
		if err != nil {
			return nil, err
		}
		credKey = key
	}

	s := &RESTServer{
		config:   cfg,
		store:    store,
		registry: registry,
		auth:     auth.NewJWTManager(&cfg.JWT),
		credKey:  credKey,
		router:   chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// WebSocket clients cannot set headers from browsers;
			// accept the token as a query parameter there.
			authHeader = "Bearer " + r.URL.Query().Get("token")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		claims, err := s.auth.VerifyToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type claimsKey struct{}

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
