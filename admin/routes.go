package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/cfg"
)

// NewRouter builds the HTTP surface: the websocket endpoint, health, metrics
// and, when enabled, the PSK-protected admin API under /admin.
// metrics may be nil when Prometheus is disabled.
func NewRouter(handlers *AdminHandlers, ws http.Handler, metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", handlers.handleHealth)
	r.Handle(cfg.Config.HTTP.WSPath, ws)

	if metrics != nil {
		r.Handle(cfg.Config.Prometheus.Path, metrics)
	}

	if !cfg.Config.Admin.Enabled {
		return r
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(AuthMiddleware)

		r.Route("/watchers", func(r chi.Router) {
			r.Get("/", handlers.handleListWatchers)
			r.Get("/{name}", handlers.handleGetWatcher)
			r.Post("/{name}/poll", handlers.handlePollWatcher)
		})

		r.Post("/broadcast", handlers.handleBroadcast)
		r.Post("/notify", handlers.handleNotify)
		r.Get("/clients", handlers.handleClients)
		r.Get("/events", handlers.handleEvents)
		r.Get("/sinks", handlers.handleSinks)
	})

	log.Info().Msg("Admin endpoints enabled at /admin/*")

	return r
}
