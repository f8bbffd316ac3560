package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vedran77/pulsechat/internal/metrics"
	"github.com/vedran77/pulsechat/internal/transport/http/handlers"
	"github.com/vedran77/pulsechat/internal/transport/http/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Deps struct {
	Messages *handlers.MessageHandler
	// Media is nil when no media store is configured.
	Media          *handlers.MediaHandler
	Realtime       http.Handler
	Auth           middleware.Authenticator
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	// Health reports whether backing stores are reachable.
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLog(d.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health(d.Health))
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	// Upgrade requests bypass tracing; the connection outlives the request.
	if d.Realtime != nil {
		r.Method(http.MethodGet, "/ws", d.Realtime)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(otelhttp.NewMiddleware("pulsechat",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		))
		r.Use(middleware.Auth(d.Auth))

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", d.Messages.Send)
			r.Post("/thread", d.Messages.Thread)
			r.Delete("/thread/{otherUser}", d.Messages.ClearThread)
			r.Put("/{id}", d.Messages.Edit)
			r.Delete("/{id}", d.Messages.Delete)
			r.Post("/{id}/react", d.Messages.React)
		})

		if d.Media != nil {
			r.Post("/media", d.Media.Upload)
		}
	})

	return r
}

func health(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status": "degraded"}`))
				return
			}
		}
		w.Write([]byte(`{"status": "ok"}`))
	}
}
