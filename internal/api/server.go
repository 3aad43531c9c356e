package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/cache"
	"github.com/KeppyMarbles/ModbusTiles/internal/config"
	"github.com/KeppyMarbles/ModbusTiles/internal/database"
	"github.com/KeppyMarbles/ModbusTiles/internal/metrics"
	"github.com/KeppyMarbles/ModbusTiles/internal/mqttclient"
	"github.com/KeppyMarbles/ModbusTiles/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	http   *http.Server
	log    zerolog.Logger
	health *HealthHandler
}

type ServerOptions struct {
	Config    *config.Config
	DB        *database.DB
	Cache     *cache.Cache
	MQTT      *mqttclient.Client
	Sessions  *session.Registry
	Poll      PollStatusSource  // nil if the poll engine isn't wired in yet
	PollStats metrics.PollStats // nil if the poll engine isn't wired in yet
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	// Unauthenticated endpoints
	health := NewHealthHandler(opts.DB, opts.MQTT, opts.Poll, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	if opts.Config.MetricsEnabled {
		collector := metrics.NewCollector(opts.DB.Pool, opts.PollStats)
		prometheus.MustRegister(collector)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(10 << 20)) // 10 MB
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(BearerAuth(opts.Config.AuthToken, opts.Config.WriteToken))
		r.Use(WriteAuth(opts.Config.WriteToken))
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		r.Route("/api/v1", func(r chi.Router) {
			NewDevicesHandler(opts.DB, opts.Sessions).Routes(r)
			NewTagsHandler(opts.DB).Routes(r)
			NewWritesHandler(opts.DB).Routes(r)
			NewAlarmsHandler(opts.DB).Routes(r)
			NewSchedulesHandler(opts.DB).Routes(r)
			NewHistoryHandler(opts.DB).Routes(r)
			NewValuesHandler(opts.DB, opts.Cache).Routes(r)

			// Bulk registration mutates every device/tag it names in one
			// call; require an auth token even when AUTH_ENABLED=false.
			r.Group(func(r chi.Router) {
				r.Use(RequireAuth(opts.Config.AuthToken))
				NewAdminHandler(opts.DB).Routes(r)
			})
		})
	})

	srv := &http.Server{
		Addr:         opts.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  opts.Config.ReadTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
		WriteTimeout: 0, // long-lived poll/health polling clients aren't cut off mid-response
	}

	return &Server{
		http:   srv,
		log:    opts.Log,
		health: health,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
