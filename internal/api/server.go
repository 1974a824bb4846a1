// Package api exposes document submission, score lookup and identifier
// validation over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ppiankov/credible/internal/identifier"
	"github.com/ppiankov/credible/internal/logging"
	"github.com/ppiankov/credible/internal/model"
	"github.com/ppiankov/credible/internal/pipeline"
	"github.com/ppiankov/credible/internal/vault"
)

const defaultMaxBody = 32 << 20

// Server is a chi router bound to the pipeline runtime
type Server struct {
	cfg       model.APIConfig
	pipeline  *pipeline.Pipeline
	fetcher   *pipeline.Fetcher
	validator *identifier.Validator
	vault     *vault.Vault
	maxBody   int64
	log       *logging.Logger

	mux *chi.Mux
	srv *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithMaxBody caps request bodies; submitted content is base64 encoded
func WithMaxBody(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithLogger sets the access and error logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates the HTTP API over rt
func NewServer(cfg model.APIConfig, rt *pipeline.Runtime, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		pipeline:  rt.Pipeline,
		fetcher:   rt.Fetcher,
		validator: rt.Validator,
		vault:     rt.Vault,
		maxBody:   defaultMaxBody,
		log:       logging.Nop(),
	}
	if rt.Config != nil && rt.Config.Extraction.MaxBytes > 0 {
		s.maxBody = rt.Config.Extraction.MaxBytes/3*4 + 64<<10
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = chi.NewRouter()
	s.mux.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	s.mux.Use(accessLog(s.log, 5*time.Second))
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Route("/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		r.Post("/documents", s.handleSubmitDocument)
		r.Get("/scores/{entity}", s.handleLatestScore)
		r.Get("/scores/{entity}/history", s.handleScoreHistory)
		r.Post("/identifiers/validate", s.handleValidateIdentifier)
		r.Post("/registry/refresh", s.handleRefreshRegistry)
	})

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.mux }

// Addr returns the listen address
func (s *Server) Addr() string { return s.cfg.Addr }

// Run serves until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Info().Msg("http shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}

// accessLog logs method, path, status, bytes and elapsed time per request.
// Requests slower than slow are logged at warn level.
func accessLog(log *logging.Logger, slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			evt := log.Info()
			if slow > 0 && elapsed >= slow {
				evt = log.Warn()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt.Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Msg("request done")
		})
	}
}
