// Command debugagent is the debug agent's process entrypoint: it loads
// configuration, wires the tracer/broker/profiler stack through
// pkg/agent, optionally attaches durable storage, fleet-wide pub/sub, and
// S3 profile export, and serves the DevTools-compatible HTTP/WebSocket
// surface behind the middleware stack until a termination signal arrives.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"apex-build/internal/authtoken"
	"apex-build/internal/config"
	"apex-build/internal/exporter"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
	"apex-build/internal/middleware"
	"apex-build/internal/pubsub"
	"apex-build/internal/store"
	"apex-build/internal/transport"
	"apex-build/pkg/agent"
)

func main() {
	logging.Init()
	defer logging.Sync()
	log := logging.L().Sugar()

	cfg := config.Load()
	log.Infow("starting debug agent", "environment", cfg.Environment, "listen", cfg.ListenAddr)

	a := agent.New(
		agent.WithTitle(cfg.Title),
		agent.WithSkipGlobs(cfg.SkipGlobs...),
	)
	a.Attach()
	defer a.Detach()

	var db *store.Store
	if st, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseDSN); err != nil {
		log.Warnw("persistent breakpoint/profile storage unavailable, continuing without it", "error", err)
	} else {
		db = st
		defer db.Close()
		a.Tracer.SetBreakpointStore(db)
	}

	var relay *pubsub.Relay
	if cfg.RedisURL != "" {
		r, err := pubsub.NewRelay(cfg.RedisURL, a.Broker)
		if err != nil {
			log.Warnw("fleet-wide event relay unavailable, this process will only see its own sessions", "error", err)
		} else {
			relay = r
			defer relay.Close()
		}
	}

	var uploader *exporter.Exporter
	if cfg.S3Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		exp, err := exporter.New(ctx, cfg.S3Bucket)
		cancel()
		if err != nil {
			log.Warnw("S3 profile export unavailable", "error", err)
		} else {
			uploader = exp
		}
	}

	gate := authtoken.NewGate(cfg.JWTSecret)
	if gate.Enabled() {
		log.Info("bearer-token authentication enabled for all HTTP/WS routes")
	} else {
		log.Warn("DEBUGAGENT_JWT_SECRET not set; serving without authentication")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Get().SetBuildInfo(getEnv("DEBUGAGENT_VERSION", "dev"), getEnv("GIT_COMMIT", "unknown"), getEnv("BUILD_DATE", "unknown"))
	middleware.InitRateLimiter(int(cfg.RateLimitRPS*60), int(cfg.RateLimitRPS)*2+1)
	middleware.InitAuthRateLimiter()

	statsCtx, statsCancel := context.WithCancel(context.Background())
	defer statsCancel()
	if db != nil {
		metrics.NewDBStatsCollector(db.DB(), 30*time.Second).Start(statsCtx)
	}

	mwStack := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Security(),
		middleware.CORS(),
		middleware.Maintenance(cfg.MaintenanceMode, cfg.MaintenanceMessage),
		middleware.RateLimit(),
		middleware.Auth(gate),
		middleware.AuthRateLimit(),
		metrics.PrometheusMiddleware(),
	}

	srv := transport.New(a.Registry, a.Tracer, a.Profiler, a.Broker, db, uploader, cfg.Title, cfg.AdvertiseHost, mwStack...)
	router := srv.Router()
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", metrics.PrometheusHandler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("debug agent listening, navigate to chrome://inspect to attach", "addr", cfg.ListenAddr, "advertise", cfg.AdvertiseHost)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalw("debug agent failed to start", "error", err)
	case sig := <-quit:
		log.Infow("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown error", "error", err)
	}
	log.Info("debug agent stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
