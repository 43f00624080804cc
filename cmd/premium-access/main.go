// Package main содержит точку входа для HTTP-сервиса премиум-доступа.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	premiumaccess "github.com/magabrotheeeer/premium-access/internal/app/premium-access"
	"github.com/magabrotheeeer/premium-access/internal/config"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Info("starting premium-access", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := premiumaccess.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize premium-access app", slog.Any("err", err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("premium-access app stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("premium-access app stopped gracefully")
}
