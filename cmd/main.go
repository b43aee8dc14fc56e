package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/saker-ai/screen-watcher/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to conf.yaml (optional)")
	flag.Parse()

	watcher, err := app.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start watcher", zap.Error(err))
	}
	logger := watcher.Logger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil {
		logger.Fatal("watcher stopped with error", zap.Error(err))
	}
	logger.Info("watcher stopped")
}
