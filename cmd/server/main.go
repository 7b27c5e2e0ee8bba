// Command server runs the storefront cart service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rakrong1/ladicare-sub000/internal/app"
	"github.com/rakrong1/ladicare-sub000/internal/config"
	"github.com/rakrong1/ladicare-sub000/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("cart service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("cart-service", cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cart, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	log.Info("cart service starting",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store", cfg.Store),
	)
	if err := cart.Run(ctx); err != nil {
		return err
	}
	log.Info("cart service stopped")
	return nil
}
