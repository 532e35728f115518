package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/wsn-portal/provisioning-server/internal/auth"
	"github.com/wsn-portal/provisioning-server/internal/config"
	"github.com/wsn-portal/provisioning-server/internal/models"
	"github.com/wsn-portal/provisioning-server/internal/storage"
)

type contextKey string

const claimsKey contextKey = "claims"

// JobProducer is the billing-event producer surface the handlers use
// to issue provisioning work
type JobProducer interface {
	UserRegistered(ctx context.Context, user *models.User, password, profile string) error
	PaymentConfirmed(ctx context.Context, user *models.User, profile string) error
	PasswordChanged(ctx context.Context, user *models.User, newPassword string) error
	UserBanned(ctx context.Context, user *models.User) error
	UserUnbanned(ctx context.Context, user *models.User) error
}

// DeviceReader serves synchronous device reads for admin endpoints
type DeviceReader interface {
	ListAccounts(ctx context.Context) ([]models.HotspotAccount, error)
	ListActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
	ListProfiles(ctx context.Context) ([]string, error)
	KickSession(ctx context.Context, sessionID string) error
}

// RESTServer represents the REST API server
type RESTServer struct {
	config   *config.Config
	store    storage.Store
	auth     *auth.JWTManager
	producer JobProducer
	device   DeviceReader
	router   chi.Router
	server   *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, producer JobProducer, device DeviceReader) *RESTServer {
	s := &RESTServer{
		config:   cfg,
		store:    store,
		auth:     auth.NewJWTManager(&cfg.JWT),
		producer: producer,
		device:   device,
		router:   chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

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
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware restricts a route to admin users
func (s *RESTServer) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil || !claims.IsAdmin {
			s.respondError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// claimsFromContext extracts validated claims, nil when absent
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}
