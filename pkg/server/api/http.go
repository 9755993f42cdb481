// Package api provides HTTP and WebSocket API endpoints for the price server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/StrathCole/cardprice/pkg/logging"
	"github.com/StrathCole/cardprice/pkg/server/aggregator"
	"github.com/StrathCole/cardprice/pkg/server/refresh"
)

const maxBodyBytes = 64 << 10

// Refresher runs one bulk refresh pass.
type Refresher interface {
	Run(ctx context.Context) (refresh.Summary, error)
}

// Config holds HTTP server settings.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	TrustProxy     bool
	TLSCert        string
	TLSKey         string
}

// Server represents the HTTP API server.
type Server struct {
	cfg       Config
	pricer    aggregator.Pricer
	refresher Refresher
	stream    *StreamHub
	limiter   *RateLimiter
	server    *http.Server
	logger    *logging.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(cfg Config, pricer aggregator.Pricer, logger *logging.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		pricer:  pricer,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger),
		logger:  logger,
	}
}

// SetRefresher enables POST /v1/refresh.
func (s *Server) SetRefresher(r Refresher) {
	s.refresher = r
}

// SetStream enables GET /v1/stream.
func (s *Server) SetStream(h *StreamHub) {
	s.stream = h
}

// Handler builds the router. It is exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(observe(s.logger))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Handler)
			timeout := middleware.Timeout(s.cfg.RequestTimeout)
			r.With(timeout).Get("/price", s.handlePriceQuery)
			r.With(timeout).Post("/price", s.handlePriceBody)
			r.Post("/refresh", s.handleRefresh)
		})
		r.Get("/stream", s.handleStream)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops. There is no write
// timeout since refresh and stream responses are long-lived; price routes are
// bounded by RequestTimeout instead.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var err error
	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		s.logger.Info("Starting HTTPS server", "addr", s.cfg.Addr)
		err = s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	} else {
		s.logger.Info("Starting HTTP server", "addr", s.cfg.Addr)
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePriceQuery(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromValues(r.URL.Query())
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err)
		return
	}
	s.price(w, r, req)
}

func (s *Server) handlePriceBody(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.price(w, r, req)
}

func (s *Server) price(w http.ResponseWriter, r *http.Request, req PriceRequest) {
	q, err := req.Query()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.pricer.Aggregate(r.Context(), q)
	switch {
	case errors.Is(err, aggregator.ErrInvalidQuery):
		s.sendError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.logger.Error("Aggregation failed",
			"name", q.Name,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		s.sendError(w, http.StatusInternalServerError, errors.New("aggregation failed"))
		return
	}
	s.sendJSON(w, http.StatusOK, newPriceResponse(result))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.sendError(w, http.StatusServiceUnavailable, errors.New("refresh is not enabled"))
		return
	}
	summary, err := s.refresher.Run(r.Context())
	switch {
	case errors.Is(err, refresh.ErrAlreadyRunning):
		s.sendError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.logger.Warn("Refresh ended early", "error", err, "priced", summary.Priced)
		s.sendError(w, http.StatusInternalServerError, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		s.sendError(w, http.StatusServiceUnavailable, errors.New("streaming is not enabled"))
		return
	}
	s.stream.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, status int, err error) {
	s.sendJSON(w, status, ErrorResponse{Error: err.Error()})
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, logger *logging.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}
