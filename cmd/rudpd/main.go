// Command rudpd is a demo listener binary: it loads Config from the
// environment, starts a Transport, exposes Prometheus metrics, and logs
// connection lifecycle until terminated. Grounded on the teacher's
// core/main.go (config load, banner, signal-driven graceful shutdown).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/brisknet/rudp/internal/applog"
	"github.com/brisknet/rudp/internal/config"
	"github.com/brisknet/rudp/internal/metrics"
	"github.com/brisknet/rudp/pkg/rudp"
)

const version = "0.1.0"

func main() {
	applog.Banner("rudp listener", version)

	cfg, err := config.Load(context.Background())
	if err != nil {
		applog.For("main").WithError(err).Fatal("failed to load configuration")
	}
	applog.SetLevel(cfg.LogLevel)
	log := applog.For("main")

	transport, err := rudp.Listen(*cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to start transport")
	}
	log.WithField("addr", transport.LocalAddr().String()).Info("listening")

	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	if err := transport.Close(); err != nil {
		log.WithError(err).Warn("transport shutdown did not complete cleanly")
	}
}

// serveMetrics starts the Prometheus exposition endpoint on addr, mounted
// on the module's dedicated registry (internal/metrics.Registry) rather
// than the global DefaultRegisterer, so an embedding process's own
// /metrics handler is never collided with.
func serveMetrics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("metrics server stopped")
	}
}
