package rest

import (
	"net/http"

	"real-backend/interfaces/http/rest/handlers"
	"real-backend/interfaces/http/rest/middleware"
	"real-backend/pkg/auth"
	"real-backend/pkg/common"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Router creates and configures the ops HTTP router
type Router struct {
	dispatcher    handlers.BatchProcessor
	authenticator *auth.Authenticator
	limiter       *auth.OperatorRateLimiter
	enableCORS    bool
	logger        *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	dispatcher handlers.BatchProcessor,
	authenticator *auth.Authenticator,
	limiter *auth.OperatorRateLimiter,
	enableCORS bool,
	logger *zap.Logger,
) *Router {
	return &Router{
		dispatcher:    dispatcher,
		authenticator: authenticator,
		limiter:       limiter,
		enableCORS:    enableCORS,
		logger:        logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.enableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"http://localhost:3000", "https://*.real.app"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	router.Get("/health", rt.healthCheck)

	replay := handlers.NewReplayHandler(rt.dispatcher, rt.logger)
	router.Route("/ops", func(r chi.Router) {
		r.Use(middleware.RequireOperator(rt.authenticator, rt.limiter, rt.logger))
		r.Get("/routes", replay.Routes)
		r.Post("/replay", replay.Replay)
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, req, http.StatusOK, map[string]string{"status": "healthy"})
}
