package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/checkout-saga/internal/app"
	"github.com/ariefcatur/checkout-saga/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ServiceOrders)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	lg, err := app.NewLogger(cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg = lg.With(zap.String("service", cfg.ServiceName))
	if err := app.RunOrders(ctx, cfg, lg); err != nil {
		lg.Error("Exited", zap.Error(err))
		stop()
		_ = lg.Sync()
		os.Exit(1)
	}
	lg.Info("Stopped")
}
