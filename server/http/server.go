// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/fanout/fanout"
	"github.com/absmach/fanout/filter"
	"github.com/absmach/fanout/queue"
	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/types"
	"github.com/absmach/fanout/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

// maxBodySize bounds request bodies.
const maxBodySize = 8 << 20

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	TLSConfig       *tls.Config
}

// Server exposes fanouts and their queues as a JSON API.
type Server struct {
	config  Config
	fanouts *fanout.Manager[any]
	queues  *queue.Manager
	limits  *ratelimit.Manager
	logger  *slog.Logger
	server  *http.Server
}

// New creates the API server. limits may be nil.
func New(cfg Config, fanouts *fanout.Manager[any], queues *queue.Manager, limits *ratelimit.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		fanouts: fanouts,
		queues:  queues,
		limits:  limits,
		logger:  logger,
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Handler(),
		TLSConfig:         cfg.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/fanouts/{fanout}", func(r chi.Router) {
		r.Get("/", s.handleFanoutInfo)
		r.Delete("/", s.handleDeleteFanout)
		r.Post("/expire", s.handleExpire)

		r.Post("/publish", s.handlePublish)
		r.Post("/publish-many", s.handlePublishMany)

		r.Get("/subscribers", s.handleSubscriptions)
		r.Get("/subscribers/{queue}", s.handleIsSubscribed)
		r.Put("/subscribers/{queue}", s.handleSubscribe)
		r.Delete("/subscribers/{queue}", s.handleUnsubscribe)

		r.Put("/filters/{queue}", s.handleSetFilter)
		r.Delete("/filters/{queue}", s.handleRemoveFilter)
	})

	r.Route("/queues/{queue}", func(r chi.Router) {
		r.Get("/", s.handleGetQueue)
		r.Put("/", s.handlePutQueue)
		r.Delete("/", s.handleDeleteQueue)
		r.Post("/poll", s.handlePoll)
	})

	return r
}

// Listen serves the API until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("http_api_starting", slog.String("addr", s.config.Address))

	errCh := make(chan error, 1)
	go func() {
		if s.config.TLSConfig != nil {
			if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			return
		}
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http_api_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_api_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("http_api_stopped")
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, fanout.ErrInvalidArgs),
		errors.Is(err, filter.ErrInvalidSpec),
		errors.Is(err, filter.ErrUnknownFilter),
		errors.Is(err, types.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrQueueNotFound):
		return http.StatusNotFound
	case errors.Is(err, fanout.ErrRegistryConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("http_api_request_failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}
