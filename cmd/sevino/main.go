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
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"sevino/internal/core"
)

func run(ctx context.Context) error {
	cfg := core.ConfigFromEnv()

	host := flag.String("host", cfg.Host, "listen host (overrides SEVINO_HOST)")
	port := flag.Int("port", cfg.Port, "listen port (overrides SEVINO_PORT)")
	dataDir := flag.String("data-dir", cfg.DataDir, "directory to store object data (overrides SEVINO_DATA_DIR)")
	flag.Parse()

	cfg.Host, cfg.Port, cfg.DataDir = *host, *port, *dataDir

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.InfoLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	server, err := core.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("create sevino server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              server.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		slog.Info("sevino listening", "addr", server.Addr(), "data_dir", cfg.DataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("sevino exited with error", "error", err)
		os.Exit(1)
	}
}
