package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// ServeMetrics starts an HTTP server exposing the process's registered
// prometheus collectors at /metrics on addr, shutting down when ctx is
// canceled. It returns immediately after the server goroutine starts;
// exposing metrics is never allowed to fail an extraction run, so
// listener errors are logged rather than propagated.
func ServeMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.Warningf("orchestrator: metrics server shutdown: %v", err)
		}
	}()

	go func() {
		klog.Infof("orchestrator: metrics listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("orchestrator: metrics server: %v", err)
		}
	}()
}
