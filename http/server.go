// Package http exposes the coordinator over HTTP.
package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/gorilla/handlers"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/ceremony"
	"github.com/celo-org/snark-setup-coordinator/coordinator"
	"github.com/celo-org/snark-setup-coordinator/log"
	"github.com/celo-org/snark-setup-coordinator/metrics"
	"github.com/celo-org/snark-setup-coordinator/storage"
)

// Option configures a Server.
type Option func(*Server)

// WithDiskStorage serves uploads and downloads of the artifacts kept by d.
func WithDiskStorage(d *storage.DiskStorage) Option {
	return func(s *Server) {
		s.disk = d
	}
}

// WithAccessLog writes an access log in combined log format to w.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) {
		s.accessLog = w
	}
}

// WithMetrics serves the public metrics at /metrics.
func WithMetrics() Option {
	return func(s *Server) {
		s.metrics = true
	}
}

// WithLogger sets the server logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server routes participant requests to the coordinator.
type Server struct {
	coordinator *coordinator.Coordinator
	auth        auth.Authenticator
	storage     storage.ChunkStorage
	disk        *storage.DiskStorage
	accessLog   io.Writer
	metrics     bool
	log         log.Logger

	handler http.Handler
}

func New(co *coordinator.Coordinator, authn auth.Authenticator, chunkStorage storage.ChunkStorage, opts ...Option) *Server {
	s := &Server{
		coordinator: co,
		auth:        authn,
		storage:     chunkStorage,
		log:         log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("http")

	var h http.Handler = s.routes()
	h = instrumentHandler(h)
	if s.accessLog != nil {
		h = handlers.CombinedLoggingHandler(s.accessLog, h)
	}
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.withRequestID)

	participants := s.authorize(ceremony.GroupContributors, ceremony.GroupVerifiers)
	verifiers := s.authorize(ceremony.GroupVerifiers)

	r.Get("/ceremony", s.getCeremony)
	r.With(s.authenticate, verifiers).Put("/ceremony", s.putCeremony)

	r.Route("/chunks/{id}", func(r chi.Router) {
		r.Get("/info", s.chunkInfo)
		r.With(s.authenticate, participants).Post("/lock", s.lockChunk)
		r.With(s.authenticate, participants).Post("/unlock", s.unlockChunk)
		r.With(s.authenticate, participants).Get("/contribution", s.contributionLocation)
		r.With(s.authenticate, participants).Post("/contribution", s.contribute)
		if s.disk != nil {
			r.With(s.authenticate, participants).Post("/contribution/{version}", s.uploadArtifact)
			r.Get("/contribution/{version}/{participant}", s.downloadArtifact)
		}
	})

	r.With(s.authenticate, participants).Post("/attest", s.attest)
	r.With(s.authenticate, verifiers).Post("/shutdown-signal", s.shutdownSignal)

	r.Get("/contributor/{id}/chunks", s.contributorChunks)
	r.Get("/verifier/{id}/chunks", s.verifierChunks)

	if s.metrics {
		r.Handle("/metrics", metrics.Handler())
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, http.StatusNotFound, "not found")
	})
	return r
}
