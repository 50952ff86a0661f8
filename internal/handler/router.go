package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-scene/backend/internal/handler/chat"
	"github.com/zhouzirui/z-scene/backend/internal/handler/image"
	"github.com/zhouzirui/z-scene/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/z-scene/backend/internal/middleware"
	"github.com/zhouzirui/z-scene/backend/internal/service/roleplay"
	"github.com/zhouzirui/z-scene/backend/pkg/utils"
)

// Options controls the optional parts of the router.
type Options struct {
	// Metrics is served on /metrics when non-nil.
	Metrics http.Handler
}

// DefaultMetricsHandler exposes the global Prometheus registry.
func DefaultMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// NewRouter wires HTTP routes to the session orchestrator.
func NewRouter(svc *roleplay.Service, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(svc)
	imageHandler := image.New(svc)
	wsHandler := ws.New(svc)

	chatHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		imageHandler.RegisterRoutes(api)
		chatHandler.RegisterAPIRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}
