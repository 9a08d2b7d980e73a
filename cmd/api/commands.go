package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pyqapi/internal/config"
	"pyqapi/internal/database"
	"pyqapi/internal/database/migration"
	"pyqapi/internal/logging"
	"pyqapi/internal/otel"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pyqapi",
		Short:         "Previous-year question paper API",
		SilenceUsage: true,
		// Running the bare binary starts the server.
		RunE: runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations and exit",
			RunE:  runMigrate,
		},
	)
	return root
}

// bootstrap loads configuration and installs the global logger.
func bootstrap() (*config.AppConfig, error) {
	cfg := config.Load()
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()
	log := logging.L()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing_shutdown_failed", zap.Error(err))
		}
	}()

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server_listening", zap.String("addr", ":"+cfg.Port))
		errCh <- srv.app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	log.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	db, err := database.NewPostgres(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	return migration.EnsureMigrated(cmd.Context(), db, cfg.Database.Host)
}
