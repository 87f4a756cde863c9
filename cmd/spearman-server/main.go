package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/VanDung-dev/spearman-engine/config"
	"github.com/VanDung-dev/spearman-engine/internal/cli"
	"github.com/VanDung-dev/spearman-engine/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting spearman server", "address", cfg.Server.Address, "version", cli.Version)
	if err := cli.RunServer(ctx, cfg, logger); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	logger.Info("server stopped")
}
