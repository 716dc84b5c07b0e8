package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/chat2carpool/internal/config"
	httpapi "github.com/example/chat2carpool/internal/http"
	"github.com/example/chat2carpool/internal/logging"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	srv, err := httpapi.NewServerFromConfig(cfg, logger)
	if err != nil {
		logger.Error("server wiring failed", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	if cfg.RunMigrations && srv.DB != nil {
		path := filepath.Join("migrations", "001_create_tables.sql")
		b, err := os.ReadFile(path)
		if err != nil {
			logger.Error("migration read failed", "path", path, "error", err)
			os.Exit(1)
		}
		if _, err := srv.DB.Exec(string(b)); err != nil {
			logger.Error("migration failed", "path", path, "error", err)
			os.Exit(1)
		}
		logger.Info("migration applied", "path", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv.Sessions.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionTimeout, logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat2carpool listening", "addr", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}
