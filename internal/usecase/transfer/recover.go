package transfer

import (
	"context"
	"errors"

	"github.com/sir_venger/file_transfer/internal/models"
	"golang.org/x/sync/errgroup"
)

// RecoverStats считает итог восстановления после рестарта.
type RecoverStats struct {
	Restored  int
	Assembled int
	Dropped   int
}

// Recover восстанавливает реестр по содержимому хранилища чанков.
// Сессии, у которых на диске уже все чанки, сразу собираются.
// Вызывать до старта сборщика мусора и приёма запросов.
func (e *Engine) Recover(ctx context.Context) (RecoverStats, error) {
	var stats RecoverStats

	ids, err := e.Store.Identifiers()
	if err != nil {
		return stats, err
	}

	var complete []string
	for _, id := range ids {
		if e.Registry.Has(id) {
			continue
		}
		log := e.log.With().Str("identifier", id).Logger()

		_, cerr := e.Catalog.Get(ctx, id)
		switch {
		case cerr == nil:
			// опубликован, но чанки не успели удалить
			if err := e.Store.DeleteAll(id); err != nil {
				log.Warn().Err(err).Msg("reclaim chunks of published upload")
				continue
			}
			stats.Dropped++
			continue
		case !errors.Is(cerr, models.ErrNotFound):
			return stats, cerr
		}

		m, err := e.Store.ReadManifest(id)
		if err != nil {
			log.Warn().Err(err).Msg("skip chunks without manifest")
			continue
		}
		present, err := e.Store.ListPresent(id)
		if err != nil {
			return stats, err
		}

		s := models.NewSession(m.UploadMeta, e.Now())
		if !m.CreatedAt.IsZero() {
			s.CreatedAt = m.CreatedAt
		}
		for _, n := range present {
			if n <= s.TotalChunks {
				s.Received[n] = struct{}{}
			}
		}
		if m.Status == models.StatusFailed {
			s.Status = models.StatusFailed
			s.FailReason = m.FailReason
		}

		stats.Restored += e.Registry.Restore(s)
		if s.Status == models.StatusCollecting && s.IsComplete() {
			complete = append(complete, id)
		}
	}

	assembled := make([]bool, len(complete))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i, id := range complete {
		g.Go(func() error {
			res, err := e.asm.CheckAndAssemble(gctx, id)
			if err != nil {
				e.log.Warn().Err(err).Str("identifier", id).Msg("assemble recovered upload")
				return nil
			}
			assembled[i] = res.Outcome == models.OutcomePublished
			return nil
		})
	}
	_ = g.Wait()
	for _, ok := range assembled {
		if ok {
			stats.Assembled++
		}
	}

	e.log.Info().
		Int("restored", stats.Restored).
		Int("assembled", stats.Assembled).
		Int("dropped", stats.Dropped).
		Msg("upload sessions recovered")

	return stats, nil
}
