package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bashbook/api"
	"bashbook/config"
	"bashbook/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the guest list over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, closeStore, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, err := openNotifier(cfg)
	if err != nil {
		return err
	}

	if cfg.GateEnabled() && cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set; sessions will not survive a restart")
	}
	gate := api.NewGate(cfg.Password, []byte(cfg.SessionSecret), cfg.SessionTTL.Duration)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout.Duration
	e.Server.WriteTimeout = cfg.WriteTimeout.Duration
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, store, gate, notifier, logger, api.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		SessionRate:  cfg.SessionRate,
	})

	logger.WithFields(log.Fields{
		"addr":    cfg.Addr,
		"backend": cfg.Backend,
		"gate":    cfg.GateEnabled(),
		"cache":   cfg.RedisConnectionString != "",
		"changes": cfg.ChangesQueue != "",
	}).Info("bashbook listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- e.Start(cfg.Addr)
	}()

	stopCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("server shutdown error: %v", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore builds the configured backend, wrapped in the Redis cache when
// one is configured. The returned func releases its connections.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (storage.Store, func(), error) {
	var base storage.Store
	switch cfg.Backend {
	case config.BackendTable:
		ts, err := storage.NewTableStore(cfg.StorageConnectionString, cfg.GuestsTable, cfg.GuestList)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: %w", err)
		}
		base = ts
	default:
		fs := storage.NewFileStore(cfg.DataFile)
		if _, err := os.Stat(fs.Path()); err != nil {
			logger.Warnf("data file %s not readable (%v); run bashbook init", fs.Path(), err)
		}
		base = fs
	}

	if cfg.RedisConnectionString == "" {
		return base, func() {}, nil
	}
	rc := redis.NewClient(storage.ParseRedisOptions(cfg.RedisConnectionString))
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		logger.Warnf("redis ping failed, reads fall through to storage: %v", err)
	}
	closeFn := func() {
		if err := rc.Close(); err != nil {
			logger.Warnf("redis close: %v", err)
		}
	}
	return storage.NewCache(base, rc, cfg.GuestList, cfg.CacheTTL.Duration), closeFn, nil
}

func openNotifier(cfg config.Config) (api.Notifier, error) {
	if cfg.ChangesQueue == "" {
		return storage.NopNotifier{}, nil
	}
	n, err := storage.NewQueueNotifier(cfg.StorageConnectionString, cfg.ChangesQueue)
	if err != nil {
		return nil, fmt.Errorf("changes queue: %w", err)
	}
	return n, nil
}
