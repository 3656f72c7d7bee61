package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/database"
	"github.com/modelrelay/modelrelay/internal/httpserver"
	"github.com/modelrelay/modelrelay/internal/redisclient"
)

func main() {
	configFile := flag.String("config", "", "path to the gateway config file")
	envFile := flag.String("env-file", "", "path to an optional .env file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(ctx, cfg.Database); err != nil {
			logger.Error("run migrations", "error", err)
			os.Exit(1)
		}
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, pool, redisClient, logger)
	if err != nil {
		logger.Error("build container", "error", err)
		os.Exit(1)
	}
	if err := container.Start(ctx); err != nil {
		logger.Error("start background services", "error", err)
		os.Exit(1)
	}

	server := httpserver.New(container)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.ListenAddr)
		errCh <- server.Listen()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	if delay := cfg.Server.GracefulShutdownDelay; delay > 0 {
		time.Sleep(delay)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("server shutdown", "error", err)
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn("container shutdown", "error", err)
	}
	logger.Info("gateway stopped")
}
