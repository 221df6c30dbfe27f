package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradecore/internal/api"
	"github.com/newthinker/tradecore/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}
	defer a.Close()

	if err := a.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping strategies: %w", err)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(api.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: metricsPath,
	}, a, log)

	log.Info("starting tradecore",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("strategies", a.Engine().GetEngineStats().TotalStrategies),
	)

	errCh := make(chan error, 2)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := a.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("shutting down after failure", zap.Error(err))
	}

	log.Info("shutting down tradecore")
	a.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}
