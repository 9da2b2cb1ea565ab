package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/fanrelay/internal/config"
	"github.com/shohag/fanrelay/internal/metrics"
	"github.com/shohag/fanrelay/internal/relay"
)

type Server struct {
	cfg     *config.Config
	relay   *relay.Manager
	version string
	router  *chi.Mux
	log     zerolog.Logger
	http    *http.Server
}

func NewServer(cfg *config.Config, m *relay.Manager, version string, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		relay:   m,
		version: version,
		log:     log,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	attachments := NewAttachmentResolver(s.cfg.Inbound, s.log)
	inbound := NewInboundHandler(s.relay, attachments, s.cfg.Inbound.MaxBody, s.log)
	groups := NewGroupHandler(s.relay)
	endpoints := NewEndpointHandler(s.relay, groups)
	stats := NewStatsHandler(s.relay, s.version, s.cfg.Storage.SnapshotPath)

	r.Get("/health", stats.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/webhook", inbound.Receive)
	r.Post("/webhook/{group}", inbound.Receive)

	r.Route("/api", func(r chi.Router) {
		r.Use(AdminAuth(s.cfg.Admin.Password))

		r.Get("/stats", stats.Stats)
		r.Get("/credentials", stats.GetCredentials)
		r.Post("/credentials", stats.UpdateCredentials)
		r.Post("/save", stats.Save)

		r.Post("/groups", groups.Create)
		r.Route("/groups/{id}", func(r chi.Router) {
			r.Get("/", groups.Get)
			r.Patch("/", groups.Rename)
			r.Delete("/", groups.Delete)
			r.Post("/mode", groups.SetMode)
			r.Get("/history", groups.History)
			r.Get("/dispatches", groups.Dispatches)
			r.Post("/schedules/prune", groups.PruneSchedules)

			r.Post("/endpoints", endpoints.Create)
			r.Route("/endpoints/{eid}", func(r chi.Router) {
				r.Patch("/", endpoints.Rename)
				r.Delete("/", endpoints.Delete)
				r.Post("/enabled", endpoints.SetEnabled)
				r.Post("/fixed", endpoints.SetFixed)
				r.Post("/schedule", endpoints.SetSchedule)
				r.Post("/test", endpoints.Test)
			})
		})
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
