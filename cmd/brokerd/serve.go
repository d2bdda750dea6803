package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude-oauth-broker/broker/internal/httpapi"
	"github.com/claude-oauth-broker/broker/internal/lifecycle"
	"github.com/claude-oauth-broker/broker/internal/logging"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := loadConfig()
	slog.SetDefault(logging.New(os.Stderr, cfg.LogLevel))

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	sweeper := lifecycle.NewSweeper(eng.manager, time.Duration(cfg.SweepIntervalSec)*time.Second)
	sweeper.Start()
	defer sweeper.Stop()

	handler := httpapi.NewRouter(httpapi.RouterDeps{Service: eng.service, MaxUsers: cfg.MaxUsers})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)

		// Stop the sweeper before joining the manager's background work: it
		// is the sweeper that spawns most of that work, and joining while it
		// can still enqueue new goroutines would race Manager.Shutdown's Wait.
		sweeper.Stop()
		if shutdownErr := eng.manager.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("lifecycle manager did not shut down cleanly", "err", shutdownErr)
		}
		return err
	case err := <-errCh:
		sweeper.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if shutdownErr := eng.manager.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("lifecycle manager did not shut down cleanly", "err", shutdownErr)
		}
		return err
	}
}
