package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nftecnologia/mailgenius/internal/app"
	"github.com/nftecnologia/mailgenius/internal/config"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		logger.Error("load configuration", "error", err.Error())
		os.Exit(2)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Error("wire application", "error", err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}
