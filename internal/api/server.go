package api

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/eefei22/ser-engine/internal/config"
	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/metrics"
	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

type ServerOptions struct {
	Config     *config.Config
	Store      Store
	Queue      *queue.Queue
	Worker     *queue.Worker
	Sessions   *session.Tracker
	Results    *resultlog.Log
	Registries *control.Registries
	Aggregator Runner
	Generator  Runner
	Clock      Clock
	WebFiles   fs.FS // embedded web/ directory
	Version    string
	StartTime  time.Time
	Log        zerolog.Logger
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
	if opts.Config.MetricsEnabled {
		r.Use(metrics.InstrumentHandler)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"message": "ser-engine is running",
			"status":  "healthy",
			"version": opts.Version,
		})
	})

	health := NewHealthHandler(opts.Store, opts.Queue, opts.Worker, opts.Aggregator, opts.Generator,
		opts.Version, opts.StartTime, opts.Log)
	r.Get("/health", health.ServeHTTP)

	if opts.Config.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	webFS, _ := fs.Sub(opts.WebFiles, "web")

	r.Route("/ser", func(r chi.Router) {
		speech := NewSpeechHandler(opts.Queue, opts.Worker, opts.Sessions, opts.Results,
			opts.Store, opts.Clock, opts.Config.TmpDir, opts.Log)
		dashboard := NewDashboardHandler(opts.Queue, opts.Worker, opts.Results,
			opts.Registries, opts.Clock, webFS, opts.Log)

		// Audio uploads need a larger body bound than control traffic.
		r.Group(func(r chi.Router) {
			r.Use(MaxBodySize(50 << 20))
			r.Post("/analyze-speech", speech.AnalyzeSpeech)
		})
		r.Group(func(r chi.Router) {
			r.Use(MaxBodySize(1 << 20))
			r.Get("/status", speech.Status)
			r.Get("/api/sessions/{user_id}", speech.Sessions)
			r.Delete("/api/sessions/{user_id}", speech.ClearSessions)
			r.Get("/api/aggregations", speech.Aggregations)
			r.Get("/api/signals/{user_id}", speech.Signals)
			dashboard.Routes(r)
		})
	})

	r.Route("/simulation", func(r chi.Router) {
		r.Use(MaxBodySize(1 << 20))
		NewSimulationHandler(opts.Registries, opts.Store, opts.Log).Routes(r)
	})

	srv := &http.Server{
		Addr:         opts.Config.HTTPAddr,
		Handler:      r,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
		IdleTimeout:  opts.Config.IdleTimeout,
	}

	return &Server{http: srv, log: opts.Log}
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
