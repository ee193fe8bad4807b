// Command vserial-guestd is the guest-side daemon: it opens the
// virtio-serial character device, serves the built-in routes, and
// reconnects on channel loss. It does not daemonize itself; that is left
// to the caller's init system.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nodeagent/vserial-rpc/internal/channel"
	"github.com/nodeagent/vserial-rpc/internal/config"
	"github.com/nodeagent/vserial-rpc/internal/handlers"
	"github.com/nodeagent/vserial-rpc/internal/metrics"
	"github.com/nodeagent/vserial-rpc/internal/policy"
	"github.com/nodeagent/vserial-rpc/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/vserial-rpc/guestd.yaml", "path to the guest config file")
	flag.Parse()

	cfg, err := config.LoadGuestConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load guest config")
	}
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up logging")
	}
	entry := logrus.NewEntry(log)

	router := buildRouter(cfg, entry)

	var rateLimiter *policy.RateLimiter
	if cfg.RateLimit.PerSecond > 0 || cfg.RateLimit.PerMinute > 0 || cfg.RateLimit.MaxConcurrent > 0 {
		rateLimiter = policy.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.PerMinute, cfg.RateLimit.MaxConcurrent)
	}

	var auth policy.AuthChecker
	if cfg.EnableAuth {
		secret := os.Getenv("VSERIAL_AUTH_TOKEN")
		auth = policy.NewSharedSecretAuth(secret)
	}

	collectors := metrics.New(prometheus.DefaultRegisterer)

	srv := server.New(
		func() (*channel.Endpoint, error) { return channel.OpenGuest(cfg.DevicePath) },
		router,
		server.Config{
			DefaultMaxBody:    cfg.MaxRequestSize,
			MaxHandlerTimeout: durationFromSeconds(cfg.RequestTimeout),
			RateLimiter:       rateLimiter,
			Auth:              auth,
			Logger:            entry,
			Metrics:           collectors,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		srv.Stop()
	}()

	if err := srv.Run(ctx); err != nil {
		entry.WithError(err).Fatal("server exited with error")
	}
}

func buildRouter(cfg *config.GuestConfig, log *logrus.Entry) *server.Router {
	paths := policy.NewPathPolicy(cfg.AllowedPaths, nil)
	commands := policy.NewCommandPolicy(cfg.AllowedCommands)
	startedAt := time.Now()

	router := server.NewRouter()
	register := func(method, path string, h server.Handler, authRequired bool) {
		if err := router.Register(server.RouteEntry{
			Method:       method,
			Path:         path,
			Handler:      h,
			AuthRequired: authRequired,
		}); err != nil {
			log.WithError(err).Fatalf("failed to register route %s %s", method, path)
		}
	}

	register("GET", "/api/v1/ping", handlers.Ping(startedAt), false)
	register("GET", "/api/v1/system/info", handlers.SystemInfo(), true)
	register("GET", "/api/v1/system/status", handlers.SystemStatus(), true)
	register("POST", "/api/v1/shell/exec", handlers.ShellExec(commands, paths), true)
	register("POST", "/api/v1/file/upload", handlers.FileUpload(paths), true)
	register("POST", "/api/v1/file/download", handlers.FileDownload(paths), true)
	register("GET", "/api/v1/file/info", handlers.FileInfo(paths), true)
	register("POST", "/api/v1/service/control", handlers.ServiceControl(), true)

	router.Build()
	return router
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
