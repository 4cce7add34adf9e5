package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/nest/internal/affinity"
)

// Options configures a Server.
type Options struct {
	Version       string
	Tau           float64
	StateLocation string
	Gatherer      prometheus.Gatherer // nil disables /metrics
}

// Health is the body of GET /api/health.
type Health struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Uptime    float64 `json:"uptime"`
	Programs  int     `json:"programs"`
	Windows   int     `json:"windows"`
	Workspace int32   `json:"workspace"`
	Dirty     bool    `json:"dirty"`
	State     string  `json:"state"`
}

// Server is the read-only nest status API.
type Server struct {
	store   *affinity.Store
	opts    Options
	router  chi.Router
	started time.Time
	now     func() time.Time
}

// New creates a new Server over the live store.
func New(store *affinity.Store, opts Options) *Server {
	s := &Server{
		store:   store,
		opts:    opts,
		started: time.Now(),
		now:     time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/programs", s.handlePrograms)
		r.Get("/programs/{class}", s.handleProgram)
		r.Get("/windows", s.handleWindows)
	})

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	programs, windows := s.store.Counts()
	writeJSON(w, http.StatusOK, Health{
		Status:    "ok",
		Version:   s.opts.Version,
		Uptime:    time.Since(s.started).Seconds(),
		Programs:  programs,
		Windows:   windows,
		Workspace: s.store.CurrentWorkspace(),
		Dirty:     s.store.Dirty(),
		State:     s.opts.StateLocation,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
