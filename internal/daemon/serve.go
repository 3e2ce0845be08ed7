package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"streamcache/internal/streamcache/handler"
	"streamcache/internal/streamcache/metrics"
	"streamcache/internal/streamcache/server"
	"streamcache/internal/streamcache/state"
	"streamcache/pkg/config"
	"streamcache/pkg/logger"
	"streamcache/pkg/pool"
)

func newServeCmd() *cobra.Command {
	var cacheDir string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve [port] [path]",
		Short: "Run the cache server",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args, cacheDir, logLevel)
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for stream cache files (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")

	return cmd
}

func runServe(args []string, cacheDir, logLevel string) error {
	cfg, cfgPath, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[0], err)
		}
		cfg.Server.Port = port
	}
	if len(args) >= 2 {
		cfg.Server.Path = args[1]
	}
	if cacheDir != "" {
		cfg.Cache.Directory = cacheDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	log := logger.WithField("component", "daemon")
	log.Info("configuration loaded", "source", cfgPath, "port", cfg.Server.Port, "path", cfg.Server.Path, "cacheDir", cfg.Cache.Directory)

	registry, err := state.NewRegistry(cfg.Cache.Directory, cfg.Cache.IdleTTL)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg, func() float64 {
		return float64(len(registry.ListStreams()))
	})

	bufPool := pool.New(cfg.Pool.BufferSize, cfg.Pool.PoolSize)
	h := handler.New(registry, bufPool, m)
	srv := server.New(cfg, h, registry, m, promReg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
