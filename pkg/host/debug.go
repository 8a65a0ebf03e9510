package host

import (
	"context"
	"net/http"

	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
)

// serveDebug starts the /metrics, /health, /ready, and /live endpoints
// on cfg.DebugAddr in the background. An empty DebugAddr disables it.
func (h *Host) serveDebug(ctx context.Context) {
	if h.cfg.DebugAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{Addr: h.cfg.DebugAddr, Handler: mux}
	logger := log.WithComponent("host")

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		logger.Info().Str("addr", h.cfg.DebugAddr).Msg("debug server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug server stopped")
		}
	}()
}
