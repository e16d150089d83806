// Command cockpit-ws runs the web-to-agent multiplexer: it serves the
// browser-facing websocket and resource HTTP surface and dials out to
// per-host agent processes over SSH as browsers ask for them.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cockpit-ws/internal/config"
	"cockpit-ws/internal/creds"
	"cockpit-ws/internal/logging"
	"cockpit-ws/internal/metrics"
	"cockpit-ws/internal/pairing"
	"cockpit-ws/internal/rescache"
	"cockpit-ws/internal/wsservice"
)

func main() {
	cfg := config.FromEnv()
	logging.Init(cfg.LogLevel)

	cache, err := newResourceCache(cfg)
	if err != nil {
		slog.Error("failed to initialize resource cache", "err", err)
		os.Exit(1)
	}

	issuer, err := pairing.NewIssuer()
	if err != nil {
		slog.Error("failed to initialize pairing issuer", "err", err)
		os.Exit(1)
	}

	svcCreds := creds.New(os.Getenv("COCKPIT_WS_USER"), "", "localhost")

	svc, err := wsservice.New(cfg, svcCreds, cache, issuer)
	if err != nil {
		slog.Error("failed to start service", "err", err)
		os.Exit(1)
	}

	ctx, cancelRun := context.WithCancel(context.Background())
	go svc.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/socket", svc.ServeSocket)
	mux.HandleFunc("/res/", svc.ServeResource)
	mux.HandleFunc("/cache/", svc.ServeCache)
	mux.HandleFunc("/pair/qr/", svc.ServePairQR)
	mux.HandleFunc("/pair/", svc.ServePairRedeem)
	mux.HandleFunc("/diagnostics", svc.ServeDiagnostics)
	mux.HandleFunc("/health", svc.ServeHealth)
	mux.HandleFunc("/health/live", svc.ServeHealthLive)
	mux.HandleFunc("/health/ready", svc.ServeHealthReady)
	mux.HandleFunc("/metrics", metrics.Handler)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logging.RequestMiddleware(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // websockets and streamed resources outlive any fixed deadline
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		sigterm := make(chan os.Signal, 1)
		signal.Notify(sigterm, syscall.SIGTERM, syscall.SIGINT)
		<-sigterm
		slog.Info("shutdown signal received, disposing service")

		svc.Dispose("shutdown")
		cancelRun()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		if err := cache.Close(); err != nil {
			slog.Warn("resource cache close error", "err", err)
		}
	}()

	slog.Info("starting server", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func newResourceCache(cfg config.Config) (rescache.Cache, error) {
	if cfg.RedisURL == "" {
		return rescache.NewMemoryCache(), nil
	}
	return rescache.NewRedisCache(cfg.RedisURL, "cockpit-ws:res:")
}
