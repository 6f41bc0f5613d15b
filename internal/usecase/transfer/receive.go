package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sir_venger/file_transfer/internal/chunkstore"
	"github.com/sir_venger/file_transfer/internal/models"
)

// ReceiveChunk принимает один чанк: проверяет, сохраняет, отмечает в сессии и при
// получении последнего недостающего номера собирает файл.
// Отказ возвращается и квитанцией с видом ошибки, и самой ошибкой.
func (e *Engine) ReceiveChunk(ctx context.Context, info models.ChunkInfo, payload io.Reader) (models.ChunkReceipt, error) {
	rec := models.ChunkReceipt{
		Identifier:  info.Identifier,
		ChunkNumber: info.ChunkNumber,
		TotalChunks: info.TotalChunks,
	}
	log := e.log.With().Str("identifier", info.Identifier).Int("chunk", info.ChunkNumber).Logger()

	if err := info.Validate(e.MaxChunkBytes); err != nil {
		log.Debug().Err(err).Msg("chunk rejected")
		return rec.Reject(err), err
	}
	meta := info.Meta()
	id := info.Identifier

	// Конфликт с живой сессией виден до записи на диск.
	if s, err := e.Registry.Get(id); err == nil {
		if err := s.Conflict(meta); err != nil {
			log.Warn().Err(err).Msg("chunk rejected")
			return rec.Reject(err), err
		}
	} else {
		f, err := e.Catalog.Get(ctx, id)
		switch {
		case err == nil:
			return publishedReceipt(rec, f), nil
		case !errors.Is(err, models.ErrNotFound):
			err = fmt.Errorf("%w: catalog lookup: %w", models.ErrStorage, err)
			log.Error().Err(err).Msg("chunk rejected")
			return rec.Reject(err), err
		}
	}

	staged, err := e.Store.Stage(ctx, id, info.ChunkNumber, payload, info.CurrentChunkSize)
	if err != nil {
		log.Warn().Err(err).Msg("chunk rejected")
		return rec.Reject(err), err
	}
	defer staged.Discard()

	sess, created, err := e.Registry.GetOrCreate(meta)
	if err != nil {
		log.Warn().Err(err).Msg("chunk rejected")
		return rec.Reject(err), err
	}
	defer e.Registry.Release(id)

	// Манифест пишет первый запрос; если ему не удалось, пробует следующий.
	if e.Registry.Unsaved(id) {
		if err := e.Store.WriteManifest(chunkstore.ManifestOf(sess)); err != nil {
			e.Registry.DropUnsaved(id)
			log.Error().Err(err).Msg("write manifest")
			return rec.Reject(err), err
		}
		e.Registry.MarkSaved(id)
	}
	if created {
		log.Info().
			Str("filename", sess.Filename).
			Int("total_chunks", sess.TotalChunks).
			Int64("total_size", sess.TotalSize).
			Msg("upload session started")
	}

	switch sess.Status {
	case models.StatusPublished:
		out := sessionReceipt(rec, sess)
		out.Accepted = true
		out.Duplicate = true
		out.Outcome = models.OutcomeAlreadyPublished
		return out, nil
	case models.StatusFailed:
		err := fmt.Errorf("%w: %s", models.ErrSessionFailed, id)
		return rec.Reject(err), err
	case models.StatusCompleting:
		// все номера уже получены, сборку ведёт другой запрос
		out := sessionReceipt(rec, sess)
		out.Accepted = true
		out.Duplicate = true
		out.Outcome = models.OutcomeIncomplete
		return out, nil
	}
	_, dup := sess.Received[info.ChunkNumber]

	if err := staged.Commit(); err != nil {
		log.Error().Err(err).Msg("commit chunk")
		return rec.Reject(err), err
	}

	marked, err := e.Registry.MarkReceived(id, info.ChunkNumber)
	if err != nil {
		return rec.Reject(err), err
	}
	if marked.Status == models.StatusPublished {
		// файл опубликован, пока повтор записывался; его копия больше не нужна
		if err := e.Store.DeleteAll(id); err != nil {
			log.Warn().Err(err).Msg("reclaim late duplicate")
		}
	}

	// Сборку не прерываем из-за ушедшего клиента: иначе её никто не завершит.
	res, err := e.asm.CheckAndAssemble(context.WithoutCancel(ctx), id)
	out := sessionReceipt(rec, res.Session)
	out.Accepted = true
	out.Duplicate = dup
	if err != nil {
		// чанк сохранён, но файл собрать не удалось
		out.Kind = models.KindOf(err)
		out.Message = err.Error()
		return out, err
	}
	out.Outcome = res.Outcome
	out.Completed = res.Outcome == models.OutcomePublished

	log.Debug().Str("outcome", string(res.Outcome)).Int("received", out.Received).Msg("chunk accepted")

	return out, nil
}

func sessionReceipt(rec models.ChunkReceipt, s models.Session) models.ChunkReceipt {
	if s.Identifier == "" {
		return rec
	}
	rec.Status = s.Status
	rec.Received = s.ReceivedCount()
	rec.TotalChunks = s.TotalChunks
	rec.Path = s.Path
	rec.PublicName = s.PublicName
	rec.Checksum = s.Checksum
	return rec
}

func publishedReceipt(rec models.ChunkReceipt, f models.PublishedFile) models.ChunkReceipt {
	rec.Accepted = true
	rec.Duplicate = true
	rec.Outcome = models.OutcomeAlreadyPublished
	rec.Status = models.StatusPublished
	rec.Received = f.TotalChunks
	rec.TotalChunks = f.TotalChunks
	rec.Path = f.Path
	rec.PublicName = f.PublicName
	rec.Checksum = f.Checksum
	return rec
}
