package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	probeTimeout      = 3 * time.Second
)

// Probe is the readiness dependency. The pgx pool satisfies it.
type Probe interface {
	Ping(ctx context.Context) error
}

// Server serves the ops surface: liveness, readiness and Prometheus
// metrics on a port separate from the API, so probes keep answering
// while the API is saturated.
type Server struct {
	probe  Probe
	port   int
	logger *zerolog.Logger
}

func NewServer(probe Probe, port int, logger *zerolog.Logger) *Server {
	return &Server{
		probe:  probe,
		port:   port,
		logger: logger,
	}
}

// Handler builds the ops mux. Exposed separately from Start so tests
// can hit it without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.alive)
	mux.HandleFunc("/readyz", s.ready)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) alive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	if err := s.probe.Ping(ctx); err != nil {
		http.Error(w, "database unreachable: "+err.Error(), http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ready")
}

// Start serves until the context is canceled, then drains within the
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.ListenAndServe()
	}()

	s.logger.Info().Int("port", s.port).Msg("ops server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		//nolint:contextcheck // shutdown deadline must outlive the canceled run context
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}

		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("ops server: %w", err)
	}
}
