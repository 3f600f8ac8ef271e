package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vk/nodeflow/internal/nodestate"
)

// healthHandler answers liveness probes with the number of live containers.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\ncontainers %d\n", nodestate.Total())
}

func (a *App) healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	return mux
}

// serveHealth runs the health check server until ctx is done. A server
// that cannot start is logged and does not affect the run.
func (a *App) serveHealth(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.healthMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://%s/health", ln.Addr()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Health check server failed unexpectedly", "error", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.logger.Info("🩺 Shutting down health check server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Health check server shutdown failed", "error", err)
		return nil
	}
	a.logger.Debug("Health check server shut down gracefully.")
	return nil
}

func (a *App) listenHealth() (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", a.config.HealthcheckPort))
}
