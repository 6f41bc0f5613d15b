package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sir_venger/file_transfer/internal/models"
)

// Check отвечает загрузчику перед отправкой: можно ли пропустить файл целиком
// и какие чанки уже лежат на сервере.
func (e *Engine) Check(ctx context.Context, identifier string) (models.CheckResult, error) {
	res := models.CheckResult{Identifier: identifier, Uploaded: []int{}}
	if identifier == "" {
		return res, fmt.Errorf("%w: identifier is empty", models.ErrValidation)
	}

	if s, err := e.Registry.Get(identifier); err == nil {
		res.Status = s.Status
		res.TotalChunks = s.TotalChunks
		res.Uploaded = s.ReceivedNumbers()
		res.SkipUpload = s.Status == models.StatusPublished
		res.PublicName = s.PublicName
		return res, nil
	}

	f, err := e.Catalog.Get(ctx, identifier)
	switch {
	case err == nil:
		res.SkipUpload = true
		res.Status = models.StatusPublished
		res.TotalChunks = f.TotalChunks
		res.PublicName = f.PublicName
		return res, nil
	case errors.Is(err, models.ErrNotFound):
		return res, nil
	default:
		return res, fmt.Errorf("%w: catalog lookup: %w", models.ErrStorage, err)
	}
}

// Status возвращает состояние сессии; для уже выселенных опубликованных файлов
// состояние восстанавливается из каталога.
func (e *Engine) Status(ctx context.Context, identifier string) (models.Session, error) {
	s, err := e.Registry.Get(identifier)
	if err == nil {
		return s, nil
	}

	f, cerr := e.Catalog.Get(ctx, identifier)
	if cerr != nil {
		if errors.Is(cerr, models.ErrNotFound) {
			return models.Session{}, err
		}
		return models.Session{}, fmt.Errorf("%w: catalog lookup: %w", models.ErrStorage, cerr)
	}

	out := models.NewSession(models.UploadMeta{
		Identifier:  f.Identifier,
		Filename:    f.Name,
		Type:        f.Type,
		TotalSize:   f.Size,
		TotalChunks: f.TotalChunks,
	}, f.PublishedAt)
	for n := 1; n <= f.TotalChunks; n++ {
		out.Received[n] = struct{}{}
	}
	out.Status = models.StatusPublished
	out.Path = f.Path
	out.PublicName = f.PublicName
	out.Checksum = f.Checksum

	return out, nil
}

// Sessions возвращает снимок всех живых сессий.
func (e *Engine) Sessions() []models.Session {
	return e.Registry.List()
}

// Merge явно запускает сборку. Если чанков не хватает, возвращает IncompleteError со списком недостающих.
func (e *Engine) Merge(ctx context.Context, identifier string) (models.ChunkReceipt, error) {
	rec := models.ChunkReceipt{Identifier: identifier}

	s, err := e.Registry.Get(identifier)
	if err != nil {
		f, cerr := e.Catalog.Get(ctx, identifier)
		if cerr != nil {
			return rec.Reject(err), err
		}
		return publishedReceipt(rec, f), nil
	}
	if s.Status == models.StatusCollecting && !s.IsComplete() {
		err := &models.IncompleteError{Identifier: identifier, Missing: s.Missing()}
		return sessionReceipt(rec, s).Reject(err), err
	}

	res, err := e.asm.CheckAndAssemble(context.WithoutCancel(ctx), identifier)
	out := sessionReceipt(rec, res.Session)
	if err != nil {
		return out.Reject(err), err
	}
	out.Accepted = true
	out.Outcome = res.Outcome
	out.Completed = res.Outcome == models.OutcomePublished

	return out, nil
}

// Reset сбрасывает failed (или незавершённую) сессию вместе с её чанками,
// после чего идентификатор можно загружать заново.
func (e *Engine) Reset(_ context.Context, identifier string) error {
	_, err := e.Registry.Evict(identifier,
		func(s models.Session) error {
			if s.Status == models.StatusPublished {
				return fmt.Errorf("%w: %s", models.ErrPublished, identifier)
			}
			return nil
		},
		func(s models.Session) error {
			return e.Store.DeleteAll(s.Identifier)
		},
	)
	if err != nil {
		return err
	}

	e.log.Info().Str("identifier", identifier).Msg("upload session reset")
	return nil
}
