package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Server struct{ mux *chi.Mux }

// New installs the shared middleware. Request timeouts are applied per route
// group in MountHandlers because the event stream must not be cut off.
func New(l zerolog.Logger) *Server {
	m := chi.NewRouter()

	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(Metrics)
	m.Use(Logger(l))

	return &Server{mux: m}
}

func (s *Server) Mux() http.Handler { return s.mux }

// Mount attaches any extra handler (e.g., /metrics) to the router.
func (s *Server) Mount(path string, h http.Handler) {
	s.mux.Handle(path, h)
}
