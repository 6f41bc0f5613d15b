package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sir_venger/file_transfer/internal/models"
)

// SweepStats — итог одного прохода сборщика.
type SweepStats struct {
	Sessions int `json:"sessions"`
	Orphans  int `json:"orphans"`
	Staging  int `json:"staging"`
}

// Sweep выселяет сессии, простаивающие дольше AbandonAfter, и удаляет их чанки.
// Сессии с запросами в работе и сессии в процессе сборки не трогаются.
func (e *Engine) Sweep(_ context.Context) (SweepStats, error) {
	var stats SweepStats
	ttl := e.AbandonAfter
	if ttl <= 0 {
		return stats, nil
	}

	evicted, err := e.Registry.Sweep(ttl, func(s models.Session) error {
		return e.Store.DeleteAll(s.Identifier)
	})
	stats.Sessions = len(evicted)
	for _, s := range evicted {
		if s.Status != models.StatusPublished {
			e.log.Info().
				Str("identifier", s.Identifier).
				Str("status", string(s.Status)).
				Int("received", s.ReceivedCount()).
				Int("total_chunks", s.TotalChunks).
				Msg("abandoned upload removed")
		}
	}

	now := e.Now()
	orphans, oerr := e.Store.SweepOrphans(now, ttl, e.Registry.Has)
	stats.Orphans = orphans

	staged, serr := e.sweepStaging(now, ttl)
	stats.Staging = staged

	return stats, errors.Join(err, oerr, serr)
}

// sweepStaging удаляет временные файлы сборки, оставшиеся после падения процесса.
func (e *Engine) sweepStaging(now time.Time, ttl time.Duration) (int, error) {
	dir := filepath.Join(e.PublishDir, models.StagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, de := range entries {
		fi, err := de.Info()
		if err != nil || now.Sub(fi.ModTime()) < ttl {
			continue
		}
		if err := os.Remove(filepath.Join(dir, de.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// StartGC стартует периодическую очистку брошенных загрузок.
func (e *Engine) StartGC(every time.Duration) func() {
	if every <= 0 || e.AbandonAfter <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				stats, err := e.Sweep(context.Background())
				if err != nil {
					e.log.Warn().Err(err).Msg("gc sweep")
				}
				if stats.Sessions+stats.Orphans+stats.Staging > 0 {
					e.log.Info().
						Int("sessions", stats.Sessions).
						Int("orphans", stats.Orphans).
						Int("staging", stats.Staging).
						Msg("gc sweep done")
				}
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(stop)
		})
	}
}
