package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/cascade/internal/config"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	m "git.home.luguber.info/inful/cascade/internal/metrics"
)

// MetricsServer exposes the Prometheus registry over HTTP.
type MetricsServer struct {
	cfg      config.MonitoringMetrics
	server   *http.Server
	listener net.Listener
}

// NewMetricsServer registers the Go and process collectors on reg and
// prepares the HTTP server.
func NewMetricsServer(cfg config.MonitoringMetrics, reg *prom.Registry) *MetricsServer {
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.HTTPHandler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return &MetricsServer{
		cfg: cfg,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start binds the listener synchronously so port conflicts surface here.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to bind metrics listener").
			WithContext("listen", s.cfg.Listen).Build()
	}
	s.listener = ln
	slog.Info("Serving metrics", "addr", ln.Addr().String(), "path", s.cfg.Path)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *MetricsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
