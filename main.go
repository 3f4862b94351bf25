package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"web/clustermanager/api"
	"web/clustermanager/cluster"
	"web/clustermanager/internal/config"
	"web/clustermanager/internal/logger"
	"web/clustermanager/runner"
	"web/clustermanager/source"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, ".env", "data/env/.env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
	if logger.ParseLevel(cfg.Log.Level) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), time.Minute)
	defaults, err := loadDefaultPoints(loadCtx, cfg.Source, log)
	cancelLoad()
	if err != nil {
		log.Error("load_points_failed", "error", err)
		os.Exit(1)
	}

	registry, err := runner.NewRegistry(runner.RegistryConfig{
		Options:         cfg.Cluster,
		MaxSessions:     cfg.Sessions.MaxSessions,
		IdleTimeout:     cfg.Sessions.IdleTimeout,
		CleanupInterval: cfg.Sessions.CleanupInterval,
		Logger:          log,
	})
	if err != nil {
		log.Error("registry_init_failed", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(api.Config{
		Registry:      registry,
		Logger:        log,
		APIBase:       cfg.Server.APIBase,
		DefaultPoints: defaults,
		MaxTiles:      cfg.Cluster.MaxTiles,
	})
	if err != nil {
		log.Error("server_init_failed", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server_start", "addr", cfg.Server.Addr, "api_base", cfg.Server.APIBase, "default_points", len(defaults))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server_error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	log.Info("server_shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("server_shutdown_failed", "error", err)
	}
	registry.Close()
	log.Info("server_stopped")
}

// loadDefaultPoints reads the point set every new session starts with. The
// SQL source wins when a DSN is configured; with neither a DSN nor a file
// sessions start empty.
func loadDefaultPoints(ctx context.Context, src config.SourceConfig, log *slog.Logger) ([]cluster.Point, error) {
	start := time.Now()
	var (
		points []cluster.Point
		err    error
		from   string
	)
	switch {
	case src.DSN != "":
		from = src.Driver
		db, openErr := source.Open(src.Driver, src.DSN)
		if openErr != nil {
			return nil, openErr
		}
		defer db.Close()
		points, err = source.LoadPoints(ctx, db, src.Query)
	case src.File != "":
		from = src.File
		points, err = source.LoadFile(src.File)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("points_loaded", "source", from, "points", len(points), "duration_ms", time.Since(start).Milliseconds())
	return points, nil
}
