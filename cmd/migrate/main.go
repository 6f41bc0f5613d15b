package main

import (
	"context"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/config"
	meta "github.com/sir_venger/file_transfer/internal/repo"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := strings.TrimSpace(cfg.CatalogDSN)
	if dsn == "" {
		log.Fatal().Msg("catalog_dsn is not configured")
	}
	if strings.HasPrefix(dsn, "memory://") {
		log.Info().Msg("memory catalog selected, skipping migrations")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := meta.ApplyMigrations(ctx, dsn); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	log.Info().Msg("migrations applied")
}
