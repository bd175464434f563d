package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"flarebin/internal/handler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with the periodic sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg := appCfg

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	files, sweeper, multipart := newServices(cfg, b)

	fileHandler := handler.NewFileHandler(files, sweeper, handler.Options{
		BaseURL:       cfg.Server.BaseURL,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		DefaultTTL:    cfg.Server.DefaultTTL,
	})
	multipartHandler := handler.NewMultipartHandler(multipart, fileHandler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           handler.NewRouter(log.Logger, cfg.Auth, fileHandler, multipartHandler),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           handler.NewMetricsRouter(b.health...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !cfg.Auth.Enabled() {
		log.Warn().Msg("PASSWORD is empty, uploads and listing are open to everyone")
	}

	sweeper.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", metricsServer.Addr).Msg("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down servers...")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("Server failed, shutting down")
	}

	// Очистку останавливаем первой: она пишет в хранилища, которые закроются следом
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
	return runErr
}
