// Package server exposes the fixup pipeline to other processes over HTTP,
// for long-lived deployments that normalize many documents concurrently.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icalfix/internal/fixup"
)

// Server handles normalization requests and serves pipeline metrics.
type Server struct {
	logger     *slog.Logger
	normalizer *fixup.Normalizer
	registry   *prometheus.Registry
	documents  prometheus.Counter
}

// New creates a Server around a shared Normalizer. Each Server owns its
// metrics registry so multiple instances never fight over registration.
func New(logger *slog.Logger, normalizer *fixup.Normalizer) *Server {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	s := &Server{
		logger:     logger,
		normalizer: normalizer,
		registry:   registry,
		documents: factory.NewCounter(prometheus.CounterOpts{
			Name: "icalfix_documents_total",
			Help: "Number of documents run through the fixup pipeline.",
		}),
	}
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "icalfix_fixups_total",
		Help: "Number of documents the fixup pipeline actually modified.",
	}, func() float64 {
		return float64(normalizer.Count())
	})

	return s
}

// Handler returns the HTTP routes served by this Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/normalize", s.handleNormalize)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Failed to read request body", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	s.documents.Inc()
	fixed := s.normalizer.FixBytes(body)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if _, err := io.WriteString(w, fixed); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok\n")
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	// done releases the watcher goroutine when serving stops on its own,
	// e.g. a listen error, so it never lingers waiting on the context.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Failed to shut down cleanly", "error", err)
			}
		case <-done:
		}
	}()

	s.logger.Info("Serving normalization endpoint.", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}
