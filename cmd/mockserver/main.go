// Command mockserver runs a rate limited HTTP upstream that advertises its
// quota with the RateLimit-Policy and RateLimit headers. Clients partition
// themselves with a bearer token claim; requests without one are counted per
// client IP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shaper/internal/api"
	"shaper/internal/config"
	"shaper/internal/logger"
	"shaper/internal/models"
	"shaper/internal/observability"
	"shaper/internal/ratelimit"
	"shaper/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize decision stats
	stats, pinger, err := initializeStats(cfg.MockServer.Stats)
	if err != nil {
		slog.Error("Failed to initialize stats store", "error", err)
		os.Exit(1)
	}
	if c, ok := stats.(interface{ Close() error }); ok {
		defer c.Close()
	}

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Initialize rate limiter if enabled
	var counter api.PartitionCounter
	if rl := cfg.MockServer.RateLimit; rl.Enabled {
		limiter := ratelimit.NewMemoryLimiter(rl.PolicyName, rl.Quota, rl.Window, rl.CleanupInterval)
		defer limiter.Close()
		counter = limiter

		mw := ratelimit.Middleware(limiter,
			ratelimit.WithPartitionClaim(rl.PartitionClaim),
			ratelimit.WithStats(stats),
		)
		routeOpts = append(routeOpts, api.WithRateLimiter(mw))

		slog.Info("Rate limiting enabled",
			"policy", rl.PolicyName,
			"quota", rl.Quota,
			"window", rl.Window,
			"partition_claim", rl.PartitionClaim,
		)
	}

	handlers := api.NewHandlers(ver, counter, pinger)
	router := api.SetupRoutes(handlers, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.MockServer.Host, cfg.MockServer.Port),
		Handler:      router,
		ReadTimeout:  cfg.MockServer.ReadTimeout,
		WriteTimeout: cfg.MockServer.WriteTimeout,
		IdleTimeout:  cfg.MockServer.IdleTimeout,
	}

	go func() {
		slog.Info("Starting mock upstream", "addr", server.Addr, "version", ver.Version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStats returns the configured stats store and, for stores with a
// remote dependency, a pinger for the health check.
func initializeStats(cfg models.StatsConfig) (ratelimit.StatsStore, api.Pinger, error) {
	switch cfg.Type {
	case models.StatsTypeMemory:
		return ratelimit.NewMemoryStats(), nil, nil
	case models.StatsTypeRedis:
		store := ratelimit.NewRedisStats(ratelimit.NewRedisClient(cfg.Redis),
			ratelimit.WithStatsPrefix(cfg.Redis.Prefix),
			ratelimit.WithStatsTTL(cfg.TTL),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported stats type: %s", cfg.Type)
	}
}
