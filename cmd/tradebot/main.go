package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/config"
	"github.com/ajitpratap0/perpfunk/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	migrateOnly := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "Loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting PerpFunk trading engine")

	ctx := context.Background()

	if *migrateOnly {
		os.Exit(runMigrations(ctx, cfg))
	}

	svc, err := service.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Service initialization failed")
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
		os.Exit(1)
	}
}
