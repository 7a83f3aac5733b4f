// Package httpapi wires the §6 HTTP contract onto the engine, scheduler,
// simulation manager, and chat coordinator, following the teacher's
// chi + go-chi/cors server shape (internal/server/server.go).
package httpapi

import (
	"net/http"
	"time"

	"github.com/aristath/marketsim/internal/chat"
	"github.com/aristath/marketsim/internal/scheduler"
	"github.com/aristath/marketsim/internal/simulation"
	"github.com/aristath/marketsim/internal/timer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Server exposes the §6 HTTP contract over a simulation.Manager,
// scheduler.Scheduler, chat.Coordinator, and timer.Service.
type Server struct {
	router  *chi.Mux
	manager *simulation.Manager
	sched   *scheduler.Scheduler
	chat    *chat.Coordinator
	timerSvc *timer.Service
	log     zerolog.Logger
}

// Config configures the router; DevMode disables response compression
// the way the teacher's server does for easier local debugging.
type Config struct {
	Manager *simulation.Manager
	Sched   *scheduler.Scheduler
	Chat    *chat.Coordinator
	Timer   *timer.Service
	Log     zerolog.Logger
	DevMode bool
}

// New builds the router and mounts every §6 endpoint.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		manager:  cfg.Manager,
		sched:    cfg.Sched,
		chat:     cfg.Chat,
		timerSvc: cfg.Timer,
		log:      cfg.Log.With().Str("component", "httpapi").Logger(),
	}
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()
	return s
}

// Handler returns the assembled http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/timer", s.handleTimer)

		r.Route("/simulations", func(r chi.Router) {
			r.Get("/types", s.handleListTypes)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/reset", s.handleResetAll)
			r.Get("/scheduler/status", s.handleSchedulerStatus)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/state", s.handleState)
				r.Post("/reset", s.handleResetOne)
				r.Post("/chat/messages", s.handlePostChatMessage)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
