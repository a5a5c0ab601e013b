// Package server serves /metrics and /healthz for a running agent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrison/ingestagent/internal/logger"
)

// RoundClock reports when the scheduler last finished a round.
type RoundClock interface {
	LastRound() time.Time
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	log        logger.Logger
	clock      RoundClock
	interval   time.Duration
	started    time.Time
	now        func() time.Time
}

// New builds the server. The agent is healthy while its last round finished
// within three poll intervals; before the first round the process start
// time is used.
func New(addr string, gatherer prometheus.Gatherer, clock RoundClock, interval time.Duration, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	s := &Server{
		log:      log,
		clock:    clock,
		interval: interval,
		started:  time.Now(),
		now:      time.Now,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type healthResponse struct {
	Status    string `json:"status"`
	LastRound string `json:"last_round,omitempty"`
	Age       string `json:"age"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	last := s.clock.LastRound()
	ref := last
	if ref.IsZero() {
		ref = s.started
	}
	age := s.now().Sub(ref)

	resp := healthResponse{Status: "ok", Age: age.Truncate(time.Millisecond).String()}
	if !last.IsZero() {
		resp.LastRound = last.UTC().Format(time.RFC3339)
	}
	code := http.StatusOK
	if age > 3*s.interval {
		resp.Status = "stale"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.LogInfo("status server listening", "addr", ln.Addr().String())
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.LogDebug("status server stopped")
	return nil
}
