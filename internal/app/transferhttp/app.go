package transferhttp

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/sir_venger/file_transfer/internal/chunkstore"
	"github.com/sir_venger/file_transfer/internal/config"
	meta "github.com/sir_venger/file_transfer/internal/repo"
	"github.com/sir_venger/file_transfer/internal/usecase/transfer"
	"github.com/sir_venger/file_transfer/internal/usecase/transfer/adapters/s3mirror"
)

// App держит собранный сервис: HTTP-обработчик, движок и каталог публикаций.
type App struct {
	Handler http.Handler
	Engine  *transfer.Engine
	Catalog meta.Store
}

// Build поднимает хранилище чанков, каталог и движок, восстанавливает сессии
// с диска и возвращает готовый обработчик.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	store, err := chunkstore.New(cfg.ChunkDir, log.With().Str("component", "chunkstore").Logger())
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(cfg.PublishDir, 0o755); err != nil {
		return nil, fmt.Errorf("create publish dir: %w", err)
	}

	catalog, err := meta.Open(ctx, cfg.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	var mirror transfer.Mirror
	if cfg.S3Mirror.Enabled() {
		m, err := s3mirror.FromConfig(ctx, cfg.S3Mirror)
		if err != nil {
			_ = catalog.Close()
			return nil, fmt.Errorf("s3 mirror: %w", err)
		}
		mirror = m
	}

	engine, err := transfer.New(transfer.Deps{
		Store:         store,
		Catalog:       catalog,
		Mirror:        mirror,
		PublishDir:    cfg.PublishDir,
		AbandonAfter:  cfg.AbandonAfter,
		MaxChunkBytes: cfg.MaxChunkBytes,
		Workers:       cfg.AssemblyWorkers,
	})
	if err != nil {
		_ = catalog.Close()
		return nil, err
	}
	engine.SetLogger(log.With().Str("component", "transfer").Logger())

	stats, err := engine.Recover(ctx)
	if err != nil {
		_ = catalog.Close()
		return nil, fmt.Errorf("recover sessions: %w", err)
	}
	log.Info().
		Int("restored", stats.Restored).
		Int("assembled", stats.Assembled).
		Int("dropped", stats.Dropped).
		Msg("sessions recovered")

	return &App{
		Handler: NewServer(cfg, engine, log),
		Engine:  engine,
		Catalog: catalog,
	}, nil
}

// Close освобождает каталог.
func (a *App) Close() error {
	return a.Catalog.Close()
}
