package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/leadloop/agentbus/internal/service/models/message"
	busstats "github.com/leadloop/agentbus/internal/transport/http/bus_stats"
	consumemessage "github.com/leadloop/agentbus/internal/transport/http/consume_message"
	publishmessage "github.com/leadloop/agentbus/internal/transport/http/publish_message"
	triggersweep "github.com/leadloop/agentbus/internal/transport/http/trigger_sweep"
	"github.com/leadloop/agentbus/pkg/http/middleware/trace"
	"github.com/leadloop/agentbus/pkg/logger"
)

type service interface {
	Publish(ctx context.Context, channel string, payload json.RawMessage, correlationID string) (message.Message, error)
	Consume(ctx context.Context, id uuid.UUID, agent string) error
	Stats(ctx context.Context) (message.Stats, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type HTTPTransport struct {
	server         *http.Server
	router         *chi.Mux
	service        service
	sweeper        sweeper
	metricsHandler http.Handler
}

func NewHTTPTransport(service service, sweeper sweeper, metricsHandler http.Handler) *HTTPTransport {
	router := newRouter()
	server := newServer(router)
	return &HTTPTransport{
		server:         server,
		router:         router,
		service:        service,
		sweeper:        sweeper,
		metricsHandler: metricsHandler,
	}
}

func (h *HTTPTransport) Run() error {
	return h.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Route("/api/bus", func(r chi.Router) {
		r.Post("/messages", h.publish)
		r.Post("/messages/{id}/consume", h.consume)
		r.Get("/stats", h.stats)
		r.Post("/sweep", h.sweep)
	})
	h.router.Method(http.MethodGet, "/metrics", h.metricsHandler)
}

func (h *HTTPTransport) publish(w http.ResponseWriter, r *http.Request) {
	publishmessage.Publish(w, r, h.service)
}

func (h *HTTPTransport) consume(w http.ResponseWriter, r *http.Request) {
	consumemessage.Consume(w, r, h.service)
}

func (h *HTTPTransport) stats(w http.ResponseWriter, r *http.Request) {
	busstats.Stats(w, r, h.service)
}

func (h *HTTPTransport) sweep(w http.ResponseWriter, r *http.Request) {
	triggersweep.Sweep(w, r, h.sweeper)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	return &http.Server{
		Addr:    "0.0.0.0:" + viper.GetString("server.http.port"),
		Handler: router,
	}
}
