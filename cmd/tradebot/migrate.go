package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/perpfunk/internal/config"
	"github.com/ajitpratap0/perpfunk/internal/db"
)

// runMigrations applies the schema and exits; used by deploy pipelines
func runMigrations(ctx context.Context, cfg *config.Config) int {
	database, err := db.New(ctx, &cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("Database connection failed")
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		return 1
	}
	log.Info().Msg("Migrations applied")
	return 0
}
