package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"asset-tracker-api/internal/auth"
	"asset-tracker-api/internal/config"
	"asset-tracker-api/internal/handlers"
	"asset-tracker-api/internal/tracking"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// roleAdmin may register portals
const roleAdmin = "admin"

type Server struct {
	Router     *chi.Mux
	Service    *tracking.Service
	JWTManager *auth.JWTManager
	// Metrics is nil when ENABLE_METRICS is off.
	Metrics *Metrics

	cfg *config.Config
	log zerolog.Logger
}

// NewServer builds the HTTP surface over svc. metrics may be nil; it is then
// created when cfg.EnableMetrics is set. Passing the same Metrics to
// tracking.Options.Observer exposes ingestion counters on /metrics.
func NewServer(cfg *config.Config, svc *tracking.Service, metrics *Metrics, logger zerolog.Logger) (*Server, error) {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("jwt configuration: %w", err)
	}
	if metrics == nil && cfg.EnableMetrics {
		metrics = NewMetrics()
	}

	s := &Server{
		Router:     chi.NewRouter(),
		Service:    svc,
		JWTManager: jwtManager,
		Metrics:    metrics,
		cfg:        cfg,
		log:        logger,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(AccessLog(logger))
	if s.Metrics != nil {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Public routes
	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	s.Router.Get("/dbping", s.dbPing)

	s.Router.Route("/api", func(r chi.Router) {
		// Portal readers authenticate with their API key
		r.Group(func(r chi.Router) {
			r.Use(auth.PortalMiddleware(s.Service.Portals))
			r.Post("/reads", s.ingestReads)
		})

		// Operators authenticate with a JWT
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(s.JWTManager))
			s.mountProtectedRoutes(r)
		})
	})

	return s, nil
}

// Close releases the store
func (s *Server) Close(ctx context.Context) error {
	if s.Service != nil {
		return s.Service.Store().Close()
	}
	return nil
}

func (s *Server) dbPing(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Service.Store().Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("store ping failed")
		http.Error(w, "db: unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := w.Write([]byte("db: ok")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// mountProtectedRoutes mounts all routes that require an operator token
func (s *Server) mountProtectedRoutes(r chi.Router) {
	r.Get("/reads", s.searchReads)

	r.Get("/assets", s.listAssets)
	r.Post("/assets", s.createAsset)
	r.Get("/assets/{id}", s.getAsset)
	r.Patch("/assets/{id}", s.patchAsset)
	r.Post("/assets/{id}/assign-tag", s.assignTag)
	r.Post("/assets/{id}/checkout", s.checkoutAsset)
	r.Post("/assets/{id}/checkin", s.checkinAsset)
	r.Get("/assets/{id}/movements", s.listMovements)

	r.Get("/tags/{uid}", s.getTag)
	r.Patch("/tags/{uid}/mark-seen", s.markTagSeen)
	r.Patch("/tags/{uid}/owner", s.claimTag)

	r.Get("/portals", s.listPortals)
	r.Get("/portals/{id}", s.getPortal)
	r.With(auth.MustRole(roleAdmin)).Post("/portals", s.createPortal)

	importsHandler := handlers.NewImportsHandler(s.Service, s.log)
	r.Post("/imports/excel", importsHandler.UploadExcel)
}
